package msgcat

import (
    _ "embed"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "text/template"

    yaml "gopkg.in/yaml.v3"
)

//go:embed messages.id.yaml
var defaults []byte

// Catalog holds the user-facing texts, compiled once at load. It is read-only
// after New and safe for concurrent use.
type Catalog struct {
    texts map[string]*template.Template
}

// New compiles the embedded Indonesian texts, then the *.yaml / *.yml files of
// overrideDir in name order. Overrides may only redefine known keys and no key
// may appear in two override files.
func New(overrideDir string) (*Catalog, error) {
    src, err := flatten(defaults)
    if err != nil {
        return nil, fmt.Errorf("embedded messages: %w", err)
    }
    if dir := strings.TrimSpace(overrideDir); dir != "" {
        if err := overlay(src, dir); err != nil {
            return nil, err
        }
    }
    c := &Catalog{texts: make(map[string]*template.Template, len(src))}
    for key, text := range src {
        t, err := template.New(key).Option("missingkey=error").Parse(text)
        if err != nil {
            return nil, fmt.Errorf("message %s: %w", key, err)
        }
        c.texts[key] = t
    }
    return c, nil
}

func overlay(dst map[string]string, dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil {
        return fmt.Errorf("messages dir: %w", err)
    }
    var names []string
    for _, e := range entries {
        switch strings.ToLower(filepath.Ext(e.Name())) {
        case ".yaml", ".yml":
            if !e.IsDir() { names = append(names, e.Name()) }
        }
    }
    sort.Strings(names)

    owner := make(map[string]string)
    for _, name := range names {
        b, err := os.ReadFile(filepath.Join(dir, name))
        if err != nil { return err }
        texts, err := flatten(b)
        if err != nil { return fmt.Errorf("%s: %w", name, err) }
        for key, text := range texts {
            if _, known := dst[key]; !known {
                return fmt.Errorf("%s: unknown message %q", name, key)
            }
            if prev, dup := owner[key]; dup {
                return fmt.Errorf("message %q set by both %s and %s", key, prev, name)
            }
            owner[key] = name
            dst[key] = text
        }
    }
    return nil
}

// flatten turns nested yaml sections into dot keys (room.full). Leaves must be strings.
func flatten(b []byte) (map[string]string, error) {
    var root map[string]any
    if err := yaml.Unmarshal(b, &root); err != nil {
        return nil, err
    }
    out := make(map[string]string)
    var walk func(prefix string, v any) error
    walk = func(prefix string, v any) error {
        switch v := v.(type) {
        case map[string]any:
            for k, child := range v {
                key := k
                if prefix != "" { key = prefix + "." + k }
                if err := walk(key, child); err != nil { return err }
            }
        case string:
            if prefix == "" { return errors.New("top-level text needs a section") }
            out[prefix] = v
        case nil:
        default:
            return fmt.Errorf("%s: want text, got %T", prefix, v)
        }
        return nil
    }
    if err := walk("", map[string]any(root)); err != nil {
        return nil, err
    }
    return out, nil
}

// Render fills the text of key with data. Unknown keys and missing fields are errors.
func (c *Catalog) Render(key string, data any) (string, error) {
    t, ok := c.texts[strings.TrimSpace(key)]
    if !ok {
        return "", fmt.Errorf("message not found: %s", key)
    }
    var b strings.Builder
    if err := t.Execute(&b, data); err != nil {
        return "", err
    }
    return b.String(), nil
}

// Text is Render that falls back to the key, so a handler never fails on copy.
func (c *Catalog) Text(key string, data any) string {
    if c == nil { return key }
    out, err := c.Render(key, data)
    if err != nil { return key }
    return out
}
