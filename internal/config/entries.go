package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// MinScanInterval is the shortest allowed poll interval
	MinScanInterval     = 60 * time.Second
	DefaultScanInterval = time.Hour

	DefaultNameFormatAccounts    = "Account {code}"
	DefaultNameFormatMeters      = "Meter {code}"
	DefaultNameFormatLastPayment = "Last payment {code}"
)

// PerKind holds one value per tracked record kind
type PerKind[T any] struct {
	Accounts    T
	Meters      T
	LastPayment T
}

// AccountOptions controls how one account is synchronized
type AccountOptions struct {
	Disabled        bool
	Track           PerKind[bool]
	DevPresentation bool
	NameFormat      PerKind[string]
	ScanInterval    PerKind[time.Duration]
}

// DefaultAccountOptions tracks every kind hourly
func DefaultAccountOptions() AccountOptions {
	return AccountOptions{
		Track: PerKind[bool]{Accounts: true, Meters: true, LastPayment: true},
		NameFormat: PerKind[string]{
			Accounts:    DefaultNameFormatAccounts,
			Meters:      DefaultNameFormatMeters,
			LastPayment: DefaultNameFormatLastPayment,
		},
		ScanInterval: PerKind[time.Duration]{
			Accounts:    DefaultScanInterval,
			Meters:      DefaultScanInterval,
			LastPayment: DefaultScanInterval,
		},
	}
}

// Entry is one credential with its account options
type Entry struct {
	ID              string
	Username        string
	Password        string
	DevPresentation bool
	Default         AccountOptions
	Accounts        map[string]AccountOptions
}

// ForAccount returns the options of an account, falling back to the
// entry's default block
func (e Entry) ForAccount(code string) AccountOptions {
	if opts, ok := e.Accounts[code]; ok {
		return opts
	}
	return e.Default
}

type entriesFile struct {
	Entries []entryFile `toml:"entries"`
}

// default and accounts accept several shapes, so they are decoded loosely
type entryFile struct {
	ID              string `toml:"id"`
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	DevPresentation bool   `toml:"dev_presentation"`
	Default         any    `toml:"default"`
	Accounts        any    `toml:"accounts"`
}

// LoadEntries reads config entries from a TOML file
func LoadEntries(path string) ([]Entry, error) {
	var raw entriesFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load entries config: %w", err)
	}
	if unknown := unknownKeys(meta.Undecoded()); len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown keys %v in %s", ErrInvalid, unknown, path)
	}
	if !meta.IsDefined("entries") {
		return nil, fmt.Errorf("%w: %s defines no [[entries]]", ErrInvalid, path)
	}

	entries := make([]Entry, 0, len(raw.Entries))
	for i, rawEntry := range raw.Entries {
		entry, err := buildEntry(rawEntry)
		if err != nil {
			return nil, fmt.Errorf("entries[%d]: %w", i, err)
		}
		entries = append(entries, entry)
	}

	if err := validateEntries(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// unknownKeys filters out keys below the loosely decoded blocks, which are
// checked by decodeAccount
func unknownKeys(undecoded []toml.Key) []string {
	var unknown []string
	for _, key := range undecoded {
		if len(key) >= 2 && key[0] == "entries" && (key[1] == "default" || key[1] == "accounts") {
			continue
		}
		unknown = append(unknown, key.String())
	}
	return unknown
}

func buildEntry(raw entryFile) (Entry, error) {
	entry := Entry{
		ID:              strings.TrimSpace(raw.ID),
		Username:        strings.TrimSpace(raw.Username),
		Password:        raw.Password,
		DevPresentation: raw.DevPresentation,
		Accounts:        make(map[string]AccountOptions),
	}
	if entry.ID == "" {
		entry.ID = strings.ToLower(entry.Username)
	}

	base := DefaultAccountOptions()
	base.DevPresentation = entry.DevPresentation

	def, err := decodeAccount(raw.Default, base)
	if err != nil {
		return Entry{}, fmt.Errorf("default: %w", err)
	}
	entry.Default = def

	switch accounts := raw.Accounts.(type) {
	case nil:
	case []any:
		// A plain list tracks those accounts with fresh options, so a
		// disabled default block means "only these accounts"
		for _, code := range accounts {
			s, ok := code.(string)
			if !ok {
				return Entry{}, fmt.Errorf("%w: accounts list must contain strings", ErrInvalid)
			}
			entry.Accounts[s] = base
		}
	case map[string]any:
		// Listed accounts inherit the default block but not its
		// enabled flag; the account's own block may still disable it
		listed := def
		listed.Disabled = false
		for code, value := range accounts {
			opts, err := decodeAccount(value, listed)
			if err != nil {
				return Entry{}, fmt.Errorf("accounts.%s: %w", code, err)
			}
			entry.Accounts[code] = opts
		}
	default:
		return Entry{}, fmt.Errorf("%w: accounts must be a list or a table", ErrInvalid)
	}

	return entry, nil
}

// decodeAccount overlays an account block on base. The block may be a
// boolean (false disables the account) or a table.
func decodeAccount(value any, base AccountOptions) (AccountOptions, error) {
	opts := base
	switch v := value.(type) {
	case nil:
		return opts, nil
	case bool:
		opts.Disabled = !v
		return opts, nil
	case map[string]any:
		for key, field := range v {
			var err error
			switch key {
			case "enabled":
				var enabled bool
				enabled, err = asBool(key, field)
				opts.Disabled = !enabled
			case "accounts":
				opts.Track.Accounts, err = asBool(key, field)
			case "meters":
				opts.Track.Meters, err = asBool(key, field)
			case "last_payment":
				opts.Track.LastPayment, err = asBool(key, field)
			case "dev_presentation":
				opts.DevPresentation, err = asBool(key, field)
			case "name_format":
				opts.NameFormat, err = decodeNameFormat(field, opts.NameFormat)
			case "scan_interval":
				opts.ScanInterval, err = decodeScanInterval(field, opts.ScanInterval)
			default:
				err = fmt.Errorf("%w: unknown key %q", ErrInvalid, key)
			}
			if err != nil {
				return AccountOptions{}, err
			}
		}
		return opts, nil
	default:
		return AccountOptions{}, fmt.Errorf("%w: account options must be a boolean or a table", ErrInvalid)
	}
}

// decodeNameFormat accepts a single string (account names) or a table
func decodeNameFormat(value any, base PerKind[string]) (PerKind[string], error) {
	switch v := value.(type) {
	case string:
		base.Accounts = v
		return base, nil
	case map[string]any:
		return perKind(v, base, func(key string, field any) (string, error) {
			s, ok := field.(string)
			if !ok {
				return "", fmt.Errorf("%w: name_format.%s must be a string", ErrInvalid, key)
			}
			return s, nil
		})
	default:
		return base, fmt.Errorf("%w: name_format must be a string or a table", ErrInvalid)
	}
}

// decodeScanInterval accepts one duration for all kinds or a table
func decodeScanInterval(value any, base PerKind[time.Duration]) (PerKind[time.Duration], error) {
	if v, ok := value.(map[string]any); ok {
		return perKind(v, base, func(key string, field any) (time.Duration, error) {
			return asDuration("scan_interval."+key, field)
		})
	}
	d, err := asDuration("scan_interval", value)
	if err != nil {
		return base, err
	}
	return PerKind[time.Duration]{Accounts: d, Meters: d, LastPayment: d}, nil
}

func perKind[T any](table map[string]any, base PerKind[T], convert func(key string, field any) (T, error)) (PerKind[T], error) {
	out := base
	for key, field := range table {
		value, err := convert(key, field)
		if err != nil {
			return base, err
		}
		switch key {
		case "accounts":
			out.Accounts = value
		case "meters":
			out.Meters = value
		case "last_payment":
			out.LastPayment = value
		default:
			return base, fmt.Errorf("%w: unknown key %q", ErrInvalid, key)
		}
	}
	return out, nil
}

func asBool(key string, value any) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalid, key)
	}
	return b, nil
}

// asDuration accepts Go duration strings ("90m") or integer seconds
func asDuration(key string, value any) (time.Duration, error) {
	switch v := value.(type) {
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		return d, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	default:
		return 0, fmt.Errorf("%w: %s must be a duration string or seconds", ErrInvalid, key)
	}
}

func validateEntries(entries []Entry) error {
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.Username == "" {
			return fmt.Errorf("%w: username is required", ErrInvalid)
		}
		if entry.Password == "" {
			return fmt.Errorf("%w: password is required for %s", ErrInvalid, entry.Username)
		}
		key := strings.ToLower(entry.Username)
		if seen[key] {
			return fmt.Errorf("%w: duplicate username %s", ErrInvalid, entry.Username)
		}
		seen[key] = true

		if err := validateOptions(entry.Username+" default", entry.Default); err != nil {
			return err
		}
		codes := make([]string, 0, len(entry.Accounts))
		for code := range entry.Accounts {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			if err := validateOptions(entry.Username+" account "+code, entry.Accounts[code]); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateOptions(scope string, opts AccountOptions) error {
	for _, d := range []time.Duration{opts.ScanInterval.Accounts, opts.ScanInterval.Meters, opts.ScanInterval.LastPayment} {
		if d < MinScanInterval {
			return fmt.Errorf("%w: %s: scan interval %s is below %s", ErrInvalid, scope, d, MinScanInterval)
		}
	}
	return nil
}
