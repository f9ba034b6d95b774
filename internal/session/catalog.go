package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/memohai/relay/internal/backend"
)

const (
	// CallbackLimit is the transport's maximum callback payload size in bytes.
	CallbackLimit = 64

	CallbackModelPrefix = "m:"
	CallbackTokenPrefix = "t:"

	tokenLength = 16
)

// CatalogEntry is one selectable model.
type CatalogEntry struct {
	Index       int
	ID          string
	DisplayName string
	Model       ModelSelector
}

// ProviderLister lists models grouped by provider.
type ProviderLister interface {
	Providers(ctx context.Context) (backend.ProvidersResponse, error)
}

// Catalog fetches the model list and remembers what each chat was last shown.
type Catalog struct {
	lister ProviderLister
	cache  *cache.Cache
	logger *slog.Logger
}

func NewCatalog(log *slog.Logger, lister ProviderLister, ttl time.Duration) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Catalog{
		lister: lister,
		cache:  cache.New(ttl, 10*time.Minute),
		logger: log.With(slog.String("service", "model_catalog")),
	}
}

// Refresh fetches the catalog for chatID, sorted by provider then model id
// and indexed from 1.
func (c *Catalog) Refresh(ctx context.Context, chatID string) ([]CatalogEntry, error) {
	resp, err := c.lister.Providers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	entries := make([]CatalogEntry, 0)
	for _, p := range resp.Providers {
		for key, m := range p.Models {
			id := strings.TrimSpace(m.ID)
			if id == "" {
				id = key
			}
			name := strings.TrimSpace(m.Name)
			if name == "" {
				name = id
			}
			sel := ModelSelector{ProviderID: p.ID, ModelID: id}
			entries = append(entries, CatalogEntry{
				ID:          sel.String(),
				DisplayName: p.ID + " · " + name,
				Model:       sel,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Model, entries[j].Model
		if a.ProviderID != b.ProviderID {
			return a.ProviderID < b.ProviderID
		}
		return a.ModelID < b.ModelID
	})
	for i := range entries {
		entries[i].Index = i + 1
	}
	c.cache.Set(catalogKey(chatID), entries, cache.DefaultExpiration)
	c.logger.Debug("catalog refreshed", slog.String("chat_id", chatID), slog.Int("count", len(entries)))
	return entries, nil
}

// Lookup finds id in the catalog chatID was last shown.
func (c *Catalog) Lookup(chatID, id string) (CatalogEntry, bool) {
	raw, ok := c.cache.Get(catalogKey(chatID))
	if !ok {
		return CatalogEntry{}, false
	}
	for _, e := range raw.([]CatalogEntry) {
		if e.ID == id {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// CallbackData encodes a model id for a button. Ids that would overflow the
// payload limit are replaced by a short token.
func (c *Catalog) CallbackData(id string) string {
	data := CallbackModelPrefix + id
	if len(data) <= CallbackLimit {
		return data
	}
	sum := sha256.Sum256([]byte(id))
	token := hex.EncodeToString(sum[:])[:tokenLength]
	c.cache.Set(tokenKey(token), id, cache.DefaultExpiration)
	return CallbackTokenPrefix + token
}

// ResolveCallback decodes a payload produced by CallbackData.
func (c *Catalog) ResolveCallback(data string) (string, bool) {
	switch {
	case strings.HasPrefix(data, CallbackModelPrefix):
		id := strings.TrimPrefix(data, CallbackModelPrefix)
		return id, id != ""
	case strings.HasPrefix(data, CallbackTokenPrefix):
		raw, ok := c.cache.Get(tokenKey(strings.TrimPrefix(data, CallbackTokenPrefix)))
		if !ok {
			return "", false
		}
		return raw.(string), true
	default:
		return "", false
	}
}

func catalogKey(chatID string) string { return "catalog:" + chatID }

func tokenKey(token string) string { return "token:" + token }
