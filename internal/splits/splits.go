// Package splits partitions a mailbox listing into user-defined tabs without
// any server-side query support. Matching runs locally over fetched
// summaries; the reserved split id "primary" selects messages that match no
// configured split.
package splits

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/brandon/jmapmail/pkg/types"
)

// Store loads and persists the split configuration. An override JSON blob
// (typically from an environment variable) wins over the file when set.
type Store struct {
	path     string
	override string
	logger   *logrus.Logger
}

// NewStore creates a Store reading from path, with override taking
// precedence when non-empty.
func NewStore(path, override string, logger *logrus.Logger) *Store {
	return &Store{path: path, override: override, logger: logger}
}

// Load returns the configured splits. Malformed or missing configuration
// degrades to an empty config rather than failing.
func (s *Store) Load() types.SplitsConfig {
	var config types.SplitsConfig

	if s.override != "" {
		if err := json.Unmarshal([]byte(s.override), &config); err != nil {
			s.logger.WithError(err).Warn("Malformed splits override, ignoring")
			return types.SplitsConfig{}
		}
		return config
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).Warn("Failed to read splits config")
		}
		return types.SplitsConfig{}
	}
	if err := json.Unmarshal(data, &config); err != nil {
		s.logger.WithError(err).Warn("Malformed splits config, ignoring")
		return types.SplitsConfig{}
	}
	return config
}

// Save writes the configuration to the store's path, creating parent
// directories as needed.
func (s *Store) Save(config types.SplitsConfig) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create splits config dir")
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode splits config")
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return errors.Wrap(err, "write splits config")
	}
	return nil
}

// SeedFromIdentities generates per-domain splits from the account's sending
// identities and persists them. Returns nil when splits already exist or
// when the identities span at most one domain.
func (s *Store) SeedFromIdentities(identities []types.Identity) *types.SplitsConfig {
	if existing := s.Load(); len(existing.Splits) > 0 {
		return nil
	}

	config := GenerateFromIdentities(identities)
	if len(config.Splits) == 0 {
		return nil
	}

	if err := s.Save(config); err != nil {
		s.logger.WithError(err).Warn("Failed to save auto-generated splits")
		return nil
	}
	s.logger.WithField("splits", len(config.Splits)).Info("Seeded splits from identities")
	return &config
}

// EffectiveConfig returns the configuration to run with: a freshly seeded
// one on first use, otherwise whatever is saved. Never nil.
func (s *Store) EffectiveConfig(identities []types.Identity) *types.SplitsConfig {
	if seeded := s.SeedFromIdentities(identities); seeded != nil {
		return seeded
	}
	config := s.Load()
	return &config
}

// GenerateFromIdentities builds one split per unique identity domain. A
// single domain yields nothing; there is no point in splitting then. Split
// ids use the domain's first label unless labels collide, in which case the
// full domain (dots replaced with dashes) is used.
func GenerateFromIdentities(identities []types.Identity) types.SplitsConfig {
	seen := make(map[string]bool)
	var domains []string
	for _, id := range identities {
		_, domain, found := strings.Cut(id.Email, "@")
		if !found || domain == "" {
			continue
		}
		domain = strings.ToLower(domain)
		if !seen[domain] {
			seen[domain] = true
			domains = append(domains, domain)
		}
	}
	if len(domains) <= 1 {
		return types.SplitsConfig{}
	}
	sort.Strings(domains)

	shortNames := make(map[string]bool)
	shortNamesUnique := true
	for _, domain := range domains {
		short, _, _ := strings.Cut(domain, ".")
		if shortNames[short] {
			shortNamesUnique = false
			break
		}
		shortNames[short] = true
	}

	var config types.SplitsConfig
	for _, domain := range domains {
		short, _, _ := strings.Cut(domain, ".")
		id, name := short, short
		if !shortNamesUnique {
			id = strings.ReplaceAll(domain, ".", "-")
			name = domain
		}
		config.Splits = append(config.Splits, types.SplitInbox{
			ID:   id,
			Name: name,
			Filters: []types.SplitFilter{
				{Type: types.FilterTo, Pattern: "*@" + domain},
			},
			MatchMode: types.MatchAny,
		})
	}
	return config
}

// MatchesFilter reports whether one summary satisfies one filter predicate.
func MatchesFilter(email *types.EmailSummary, filter types.SplitFilter) bool {
	switch filter.Type {
	case types.FilterFrom:
		for _, addr := range email.From {
			if globMatch(filter.Pattern, addr.Email) {
				return true
			}
		}
		return false
	case types.FilterTo:
		for _, addr := range email.To {
			if globMatch(filter.Pattern, addr.Email) {
				return true
			}
		}
		for _, addr := range email.CC {
			if globMatch(filter.Pattern, addr.Email) {
				return true
			}
		}
		return false
	case types.FilterSubject:
		re, err := regexp.Compile("(?i)" + filter.Pattern)
		if err != nil {
			// Invalid regex degrades to case-insensitive substring match.
			return strings.Contains(strings.ToLower(email.Subject), strings.ToLower(filter.Pattern))
		}
		return re.MatchString(email.Subject)
	case types.FilterCalendar:
		return email.HasCalendar
	}
	return false
}

// MatchesSplit reports whether a summary belongs to a split, honoring its
// match mode. A split with no filters matches nothing.
func MatchesSplit(email *types.EmailSummary, split *types.SplitInbox) bool {
	if len(split.Filters) == 0 {
		return false
	}
	if split.MatchMode == types.MatchAll {
		for _, f := range split.Filters {
			if !MatchesFilter(email, f) {
				return false
			}
		}
		return true
	}
	for _, f := range split.Filters {
		if MatchesFilter(email, f) {
			return true
		}
	}
	return false
}

// MatchesAny reports whether a summary belongs to any configured split.
func MatchesAny(email *types.EmailSummary, config *types.SplitsConfig) bool {
	for i := range config.Splits {
		if MatchesSplit(email, &config.Splits[i]) {
			return true
		}
	}
	return false
}

// FilterBySplit returns the summaries belonging to the named split. The id
// "primary" selects summaries matching no split; an unknown id selects
// nothing.
func FilterBySplit(emails []types.EmailSummary, splitID string, config *types.SplitsConfig) []types.EmailSummary {
	if splitID == "primary" {
		var out []types.EmailSummary
		for i := range emails {
			if !MatchesAny(&emails[i], config) {
				out = append(out, emails[i])
			}
		}
		return out
	}

	var split *types.SplitInbox
	for i := range config.Splits {
		if config.Splits[i].ID == splitID {
			split = &config.Splits[i]
			break
		}
	}
	if split == nil {
		return nil
	}

	var out []types.EmailSummary
	for i := range emails {
		if MatchesSplit(&emails[i], split) {
			out = append(out, emails[i])
		}
	}
	return out
}
