package credential

import (
	"strings"

	apperrors "credpool-go/internal/errors"
)

// formatRule is the syntactic shape of one provider's credentials. A zero
// Prefix means no prefix check; MinLen/MaxLen bound the raw value length.
// Alnum restricts the value to [0-9A-Za-z], for tokens with no prefix to
// anchor on.
type formatRule struct {
	Prefix      string
	MinLen      int
	MaxLen      int
	Alnum       bool
	NeedsSubCfg bool
}

// formatRules is the closed per-provider table. Adding a provider without a
// row here fails ValidateFormat, which keeps the table honest.
var formatRules = map[Provider]formatRule{
	ProviderYouTube:    {Prefix: "AIzaSy", MinLen: 35, MaxLen: 45},
	ProviderGemini:     {Prefix: "AIzaSy", MinLen: 35, MaxLen: 45},
	ProviderOpenAI:     {Prefix: "sk-", MinLen: 40, MaxLen: 200},
	ProviderAnthropic:  {Prefix: "sk-ant-", MinLen: 40, MaxLen: 200},
	ProviderDeepSeek:   {Prefix: "sk-", MinLen: 30, MaxLen: 100},
	ProviderVertex:     {NeedsSubCfg: true},
	ProviderScraperAPI: {MinLen: 24, MaxLen: 64, Alnum: true},
}

// ValidateFormat performs the cheap syntactic check that gates every live
// probe. Pure function, no I/O. A failure is terminal for the candidate: the
// caller must not attempt a probe afterwards.
func ValidateFormat(provider Provider, raw string, sub *SubConfig) error {
	rule, ok := formatRules[provider]
	if !ok {
		return apperrors.Ef(apperrors.KindFormatInvalid, "unknown provider %q", provider)
	}

	if rule.NeedsSubCfg {
		// The vertex variant is validated structurally instead of by
		// prefix/length: the key shape varies, but the sub-config does not.
		if strings.TrimSpace(raw) == "" {
			return apperrors.E(apperrors.KindFormatInvalid, "empty credential value")
		}
		if sub == nil {
			return apperrors.E(apperrors.KindFormatInvalid, "missing sub-configuration")
		}
		if strings.TrimSpace(sub.ProjectID) == "" {
			return apperrors.E(apperrors.KindFormatInvalid, "sub-configuration missing project_id")
		}
		if strings.TrimSpace(sub.Region) == "" {
			return apperrors.E(apperrors.KindFormatInvalid, "sub-configuration missing region")
		}
		return nil
	}

	if sub != nil {
		return apperrors.Ef(apperrors.KindFormatInvalid, "provider %s does not accept sub-configuration", provider)
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return apperrors.E(apperrors.KindFormatInvalid, "empty credential value")
	}
	if value != raw {
		return apperrors.E(apperrors.KindFormatInvalid, "credential value has surrounding whitespace")
	}
	if rule.Prefix != "" && !strings.HasPrefix(value, rule.Prefix) {
		return apperrors.Ef(apperrors.KindFormatInvalid, "expected %q prefix for provider %s", rule.Prefix, provider)
	}
	if n := len(value); n < rule.MinLen || n > rule.MaxLen {
		return apperrors.Ef(apperrors.KindFormatInvalid, "length %d outside %d..%d for provider %s", n, rule.MinLen, rule.MaxLen, provider)
	}
	if rule.Alnum {
		for _, c := range value {
			if (c < '0' || c > '9') && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
				return apperrors.Ef(apperrors.KindFormatInvalid, "non-alphanumeric character in credential for provider %s", provider)
			}
		}
	}
	return nil
}
