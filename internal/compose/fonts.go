package compose

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
)

const maxFontFileBytes = 32 << 20

var genericFamilies = map[string][]string{
	"sans-serif": {"dejavu sans", "liberation sans", "noto sans", "arial", "helvetica", "freesans"},
	"serif":      {"dejavu serif", "liberation serif", "noto serif", "times new roman", "times", "freeserif"},
	"monospace":  {"dejavu sans mono", "liberation mono", "noto sans mono", "courier new", "courier", "freemono"},
}

// FontStore resolves SVG font-family lists to parsed TrueType fonts.
//
// System font directories are scanned once, on first use, no matter how many
// goroutines ask at the same time. After that the store is read-only and
// lookups take no lock. Parsed fonts are immutable and shared by every request;
// faces (which carry a glyph cache) must be created per use.
type FontStore struct {
	dirs []string

	once     sync.Once
	families map[string]*truetype.Font
	sans     *truetype.Font
	mono     *truetype.Font
}

var (
	defaultFontsOnce sync.Once
	defaultFonts     *FontStore
)

// DefaultFontStore is the process-wide store over the platform font
// directories.
func DefaultFontStore() *FontStore {
	defaultFontsOnce.Do(func() {
		defaultFonts = NewFontStore(nil)
	})
	return defaultFonts
}

// NewFontStore returns a store that scans dirs, or the platform defaults when
// dirs is empty. Nothing is read until the first lookup.
func NewFontStore(dirs []string) *FontStore {
	if len(dirs) == 0 {
		dirs = DefaultFontDirs()
	}
	return &FontStore{dirs: dirs}
}

// DefaultFontDirs lists the usual system font locations for the running OS.
func DefaultFontDirs() []string {
	home := os.Getenv("HOME")
	switch runtime.GOOS {
	case "darwin":
		dirs := []string{"/Library/Fonts", "/System/Library/Fonts"}
		if home != "" {
			dirs = append(dirs, filepath.Join(home, "Library", "Fonts"))
		}
		return dirs
	case "windows":
		root := os.Getenv("SYSTEMROOT")
		if root == "" {
			root = `C:\Windows`
		}
		return []string{filepath.Join(root, "Fonts")}
	default:
		dirs := []string{"/usr/share/fonts", "/usr/local/share/fonts"}
		if home != "" {
			dirs = append(dirs, filepath.Join(home, ".fonts"), filepath.Join(home, ".local", "share", "fonts"))
		}
		return dirs
	}
}

// Font returns the first family in the comma separated list that is
// installed, falling back to the bundled Go fonts.
func (s *FontStore) Font(familyList string) *truetype.Font {
	s.once.Do(s.load)

	monospace := false
	for _, name := range splitFamilies(familyList) {
		if f, ok := s.families[name]; ok {
			return f
		}
		for _, alias := range genericFamilies[name] {
			if f, ok := s.families[alias]; ok {
				return f
			}
		}
		if name == "monospace" {
			monospace = true
		}
	}
	if monospace {
		return s.mono
	}
	return s.sans
}

// Families reports how many installed families were found.
func (s *FontStore) Families() int {
	s.once.Do(s.load)
	return len(s.families)
}

func (s *FontStore) load() {
	s.families = make(map[string]*truetype.Font)
	s.sans = mustParseFont(goregular.TTF)
	s.mono = mustParseFont(gomono.TTF)

	regular := make(map[string]bool)
	for _, dir := range s.dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".ttf") {
				return nil
			}
			f, ok := parseFontFile(path)
			if !ok {
				return nil
			}

			family := strings.ToLower(strings.TrimSpace(f.Name(truetype.NameIDFontFamily)))
			if family == "" {
				return nil
			}
			isRegular := strings.EqualFold(f.Name(truetype.NameIDFontSubfamily), "Regular")
			if _, seen := s.families[family]; !seen || (isRegular && !regular[family]) {
				s.families[family] = f
				regular[family] = isRegular
			}
			return nil
		})
	}
}

func parseFontFile(path string) (*truetype.Font, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxFontFileBytes {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, false
	}
	return f, true
}

func mustParseFont(ttf []byte) *truetype.Font {
	f, err := truetype.Parse(ttf)
	if err != nil {
		panic("compose: bundled font does not parse: " + err.Error())
	}
	return f
}

func splitFamilies(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		name := strings.ToLower(strings.Trim(strings.TrimSpace(part), `"'`))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}
