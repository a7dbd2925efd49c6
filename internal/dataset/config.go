// Package dataset ties the storage layers together: configuration, the on-
// disk dataset layout, the per-dataset acquire contract, and the query
// contract. The dispatcher and maintenance engine operate on the types
// defined here.
package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/errs"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/matcher"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/targetfile"
	"github.com/ARPA-SIMC/arkimet-sub008/internal/types"
)

// Type enumerates the recognised dataset kinds.
type Type string

const (
	TypeSimple   Type = "simple"
	TypeIseg     Type = "iseg"
	TypeOndisk2  Type = "ondisk2"
	TypeRemote   Type = "remote"
	TypeOutbound Type = "outbound"
	TypeDiscard  Type = "discard"
	TypeFile     Type = "file"
)

// Config is a dataset's parsed configuration record.
type Config struct {
	Type   Type
	Path   string
	Name   string
	Step   targetfile.Step
	Format string

	Filter *matcher.Matcher

	IndexCodes  []types.Code
	UniqueCodes []types.Code
	Replace     bool

	ArchiveAge int // days; 0 = never
	DeleteAge  int // days; 0 = never

	Postprocess []string
	Smallfiles  bool
	GzGroupsize int
}

// ParseConfig parses the `key = value` text form of a dataset config.
// Unknown keys are rejected so a typo never silently changes behaviour.
func ParseConfig(text string) (*Config, error) {
	cfg := &Config{Type: TypeSimple, Step: targetfile.StepDaily, Format: "grib1", GzGroupsize: 512}
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("dataset: %w: config line %q has no '='", errs.ErrConfigError, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "type":
			switch Type(value) {
			case TypeSimple, TypeIseg, TypeOndisk2, TypeRemote, TypeOutbound, TypeDiscard, TypeFile:
				cfg.Type = Type(value)
			default:
				return nil, fmt.Errorf("dataset: %w: unknown type %q", errs.ErrConfigError, value)
			}
		case "path":
			cfg.Path = value
		case "name":
			cfg.Name = value
		case "step":
			cfg.Step, err = targetfile.ParseStep(value)
		case "format":
			cfg.Format = strings.ToLower(value)
		case "filter":
			cfg.Filter, err = matcher.Parse(value)
		case "index":
			cfg.IndexCodes, err = parseCodeList(value)
		case "unique":
			cfg.UniqueCodes, err = parseCodeList(value)
		case "replace":
			cfg.Replace, err = parseBool(value)
		case "archive age":
			cfg.ArchiveAge, err = strconv.Atoi(value)
		case "delete age":
			cfg.DeleteAge, err = strconv.Atoi(value)
		case "postprocess":
			for _, p := range strings.Split(value, ",") {
				if p = strings.TrimSpace(p); p != "" {
					cfg.Postprocess = append(cfg.Postprocess, p)
				}
			}
		case "smallfiles":
			cfg.Smallfiles, err = parseBool(value)
		case "gz groupsize":
			cfg.GzGroupsize, err = strconv.Atoi(value)
		default:
			return nil, fmt.Errorf("dataset: %w: unknown config key %q", errs.ErrConfigError, key)
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: %w: config key %q: %v", errs.ErrConfigError, key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dataset: read config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads `<root>/config` and fills in Path/Name defaults from the
// directory itself.
func LoadConfig(root string) (*Config, error) {
	buf, err := os.ReadFile(filepath.Join(root, "config"))
	if err != nil {
		return nil, fmt.Errorf("dataset: %w: read config in %q: %v", errs.ErrConfigError, root, err)
	}
	cfg, err := ParseConfig(string(buf))
	if err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		cfg.Path = root
	}
	if cfg.Name == "" {
		cfg.Name = filepath.Base(root)
	}
	return cfg, nil
}

func parseCodeList(value string) ([]types.Code, error) {
	var out []types.Code
	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		found := false
		for _, code := range types.Codes {
			if code.String() == name {
				out = append(out, code)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown attribute code %q", name)
		}
	}
	return out, nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "true", "1", "on":
		return true, nil
	case "no", "false", "0", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", value)
}
