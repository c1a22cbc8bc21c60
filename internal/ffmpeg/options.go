package ffmpeg

import "fmt"

// OptionType is a decoder behaviour flag that can be switched on per deployment.
type OptionType string

// Decoder flags.
const (
	OptionGeneratePTS    OptionType = "genpts"
	OptionIgnoreDTS      OptionType = "igndts"
	OptionIgnoreErrors   OptionType = "ignore_err"
	OptionDiscardCorrupt OptionType = "discard_corrupt"
	OptionLowLatency     OptionType = "low_latency"
	OptionSmallProbe     OptionType = "small_probe"
)

// Option describes a flag and the input arguments it expands to.
type Option struct {
	Key         OptionType `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	AppDefault  bool       `json:"app_default"`
	args        []string
}

// AllOptions lists the supported flags.
var AllOptions = []Option{
	{
		Key:         OptionGeneratePTS,
		Name:        "Generate PTS",
		Description: "Generate missing presentation timestamps",
		args:        []string{"-fflags", "+genpts"},
	},
	{
		Key:         OptionIgnoreDTS,
		Name:        "Ignore DTS",
		Description: "Ignore decode timestamps of damaged segments",
		args:        []string{"-fflags", "+igndts"},
	},
	{
		Key:         OptionIgnoreErrors,
		Name:        "Ignore Errors",
		Description: "Keep decoding past stream errors",
		AppDefault:  true,
		args:        []string{"-err_detect", "ignore_err"},
	},
	{
		Key:         OptionDiscardCorrupt,
		Name:        "Discard Corrupt",
		Description: "Drop corrupted packets instead of decoding them",
		AppDefault:  true,
		args:        []string{"-fflags", "+discardcorrupt"},
	},
	{
		Key:         OptionLowLatency,
		Name:        "Low Latency",
		Description: "Disable input buffering",
		args:        []string{"-fflags", "+nobuffer", "-flags", "low_delay"},
	},
	{
		Key:         OptionSmallProbe,
		Name:        "Small Probe",
		Description: "Analyze less input before decoding starts",
		args:        []string{"-probesize", "500000", "-analyzeduration", "500000"},
	},
}

// GetOptionByKey returns an option by its key.
func GetOptionByKey(key OptionType) *Option {
	for i := range AllOptions {
		if AllOptions[i].Key == key {
			return &AllOptions[i]
		}
	}
	return nil
}

// DefaultOptions returns the flags enabled when none are configured.
func DefaultOptions() []OptionType {
	var out []OptionType
	for _, o := range AllOptions {
		if o.AppDefault {
			out = append(out, o.Key)
		}
	}
	return out
}

// ParseOptions converts configured names into option keys.
func ParseOptions(names []string) ([]OptionType, error) {
	out := make([]OptionType, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		key := OptionType(name)
		if GetOptionByKey(key) == nil {
			return nil, fmt.Errorf("unknown ffmpeg option %q", name)
		}
		out = append(out, key)
	}
	return out, nil
}

// inputArgs expands options into input arguments. Multiple -fflags values
// are merged into a single flag because ffmpeg keeps only the last one.
func inputArgs(options []OptionType) []string {
	var args []string
	fflags := ""
	seen := make(map[OptionType]bool)
	for _, key := range options {
		if seen[key] {
			continue
		}
		seen[key] = true
		opt := GetOptionByKey(key)
		if opt == nil {
			continue
		}
		for i := 0; i < len(opt.args); i += 2 {
			if opt.args[i] == "-fflags" {
				fflags += opt.args[i+1]
				continue
			}
			args = append(args, opt.args[i], opt.args[i+1])
		}
	}
	if fflags != "" {
		args = append([]string{"-fflags", fflags}, args...)
	}
	return args
}
