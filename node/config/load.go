package config

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"
)

// FromFile loads config from a specified file overriding defaults specified in
// the def parameter. If file does not exist or is empty defaults are assumed.
func FromFile(path string, def *Fisherman) (*Fisherman, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, xerrors.Errorf("expanding config path: %w", err)
	}

	file, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		if def == nil {
			return nil, xerrors.Errorf("couldn't load config: %w", err)
		}
		return def, nil
	case err != nil:
		return nil, err
	}

	defer file.Close() //nolint:errcheck // The file is RO
	return FromReader(file, def)
}

// FromReader loads config from a reader instance.
func FromReader(reader io.Reader, def *Fisherman) (*Fisherman, error) {
	cfg := def
	if cfg == nil {
		cfg = DefaultFisherman()
	}
	md, err := toml.NewDecoder(reader).Decode(cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, xerrors.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configs the daemon cannot run with.
func (c *Fisherman) Validate() error {
	switch c.Index.Backend {
	case IndexBackendSqlite:
		if c.Index.SqlitePath == "" {
			return xerrors.New("Index.SqlitePath must be set for the sqlite backend")
		}
	case IndexBackendPostgres:
		if len(c.Index.HarmonyDB.Hosts) == 0 {
			return xerrors.New("Index.HarmonyDB.Hosts must list at least one host")
		}
	default:
		return xerrors.Errorf("unknown Index.Backend %q", c.Index.Backend)
	}

	f := c.Fisherman
	if f.MaxBatchSize <= 0 {
		return xerrors.Errorf("Fisherman.MaxBatchSize must be positive, got %d", f.MaxBatchSize)
	}
	if f.MaxBatchesPerCycle <= 0 {
		return xerrors.Errorf("Fisherman.MaxBatchesPerCycle must be positive, got %d", f.MaxBatchesPerCycle)
	}
	if f.MaxAttempts <= 0 {
		return xerrors.Errorf("Fisherman.MaxAttempts must be positive, got %d", f.MaxAttempts)
	}
	if f.SuccessMemorySize <= 0 {
		return xerrors.Errorf("Fisherman.SuccessMemorySize must be positive, got %d", f.SuccessMemorySize)
	}
	if f.ProofTimeout <= 0 || f.SubmitTimeout <= 0 || f.IndexTimeout <= 0 {
		return xerrors.New("Fisherman timeouts must be positive")
	}
	return nil
}

var commentRe = regexp.MustCompile(`(?m)^([ \t]*)([A-Za-z\[])`)

// ConfigComment returns the TOML encoding of t with every setting commented
// out, ready to be written as an annotated default config file.
func ConfigComment(t interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	_, _ = buf.WriteString("# Default config:\n")
	e := toml.NewEncoder(buf)
	if err := e.Encode(t); err != nil {
		return nil, xerrors.Errorf("encoding config: %w", err)
	}
	b := buf.Bytes()
	b = commentRe.ReplaceAll(b, []byte("#$1$2"))
	return b, nil
}
