package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/singleflight"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
	"github.com/onichip/pettrack-backend-go/internal/geocoding"
	"github.com/onichip/pettrack-backend-go/internal/metrics"
	"github.com/onichip/pettrack-backend-go/internal/models"
)

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)

// WifiCacheStore is the fingerprint cache behind the resolver. Get must
// treat entries expired at now as absent.
type WifiCacheStore interface {
	Get(ctx context.Context, fingerprint string, now time.Time) (*models.WifiCacheEntry, error)
	Put(ctx context.Context, e models.WifiCacheEntry) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// WifiResolverConfig tunes access-point and cell filtering and timeouts.
// Hybrid scans (WiFi plus cells) use the stricter Hybrid* limits.
type WifiResolverConfig struct {
	MinSignalDBm          int
	MaxAccessPoints       int
	HybridMinSignalDBm    int
	HybridMaxAccessPoints int
	MaxCellTowers         int
	DefaultRadioType      string
	CacheTTL              time.Duration
	ProviderTimeout       time.Duration
	ResolveTimeout        time.Duration
}

// WifiResolver maps radio scans to coordinates through a TTL cache and a
// provider fallback chain. Concurrent lookups of one fingerprint share a
// single provider round.
type WifiResolver struct {
	cache     WifiCacheStore
	providers []geocoding.Provider
	cfg       WifiResolverConfig
	group     singleflight.Group
	now       func() time.Time
	logger    *slog.Logger
}

// NewWifiResolver creates a resolver over the given cache and providers,
// tried in order.
func NewWifiResolver(cache WifiCacheStore, providers []geocoding.Provider, cfg WifiResolverConfig, logger *slog.Logger) *WifiResolver {
	if cfg.MaxAccessPoints <= 0 {
		cfg.MaxAccessPoints = 15
	}
	if cfg.HybridMinSignalDBm == 0 {
		cfg.HybridMinSignalDBm = -85
	}
	if cfg.HybridMaxAccessPoints <= 0 {
		cfg.HybridMaxAccessPoints = 12
	}
	if cfg.MaxCellTowers <= 0 {
		cfg.MaxCellTowers = 6
	}
	if cfg.DefaultRadioType == "" {
		cfg.DefaultRadioType = models.RadioGSM
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 7 * 24 * time.Hour
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 15 * time.Second
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WifiResolver{
		cache:     cache,
		providers: providers,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock replaces the time source used for cache expiry.
func (r *WifiResolver) SetClock(now func() time.Time) {
	r.now = now
}

// NormalizeAccessPoints drops malformed MACs and weak signals, merges
// duplicates keeping the strongest reading, and keeps at most max of the
// strongest networks. A zero signal means "not reported" and is kept.
func NormalizeAccessPoints(aps []models.AccessPoint, minSignalDBm, max int) []models.AccessPoint {
	byMAC := make(map[string]models.AccessPoint, len(aps))
	for _, ap := range aps {
		mac := strings.TrimSpace(ap.MAC)
		if !macPattern.MatchString(mac) {
			continue
		}
		if ap.SignalStrength != 0 && ap.SignalStrength <= minSignalDBm {
			continue
		}
		mac = strings.ToUpper(strings.ReplaceAll(mac, "-", ":"))
		if prev, ok := byMAC[mac]; ok && signalRank(prev.SignalStrength) >= signalRank(ap.SignalStrength) {
			continue
		}
		byMAC[mac] = models.AccessPoint{MAC: mac, SignalStrength: ap.SignalStrength}
	}

	out := make([]models.AccessPoint, 0, len(byMAC))
	for _, ap := range byMAC {
		out = append(out, ap)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := signalRank(out[i].SignalStrength), signalRank(out[j].SignalStrength)
		if ri != rj {
			return ri > rj
		}
		return out[i].MAC < out[j].MAC
	})
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// signalRank orders unreported (zero) signals after every measured one.
func signalRank(dbm int) int {
	if dbm == 0 {
		return -1 << 20
	}
	return dbm
}

// Cell identity limits: 16-bit LAC, 16-bit GSM cell ids, 28-bit
// UMTS/LTE cell ids.
const (
	maxLAC        = 65535
	maxGSMCellID  = 65535
	maxLongCellID = 268435455
)

// validCell reports whether the tower's identifiers are in range for the
// radio type.
func validCell(c models.CellTower, radio string) bool {
	if c.MobileCountryCode < 200 || c.MobileCountryCode > 999 {
		return false
	}
	if c.MobileNetworkCode < 0 || c.MobileNetworkCode > 999 {
		return false
	}
	if c.LocationAreaCode < 1 || c.LocationAreaCode > maxLAC {
		return false
	}
	limit := maxLongCellID
	if radio == models.RadioGSM {
		limit = maxGSMCellID
	}
	return c.CellID > 0 && c.CellID <= limit
}

// NormalizeCellTowers drops towers with out-of-range identifiers, merges
// duplicates keeping the strongest reading, and keeps at most max of the
// strongest towers.
func NormalizeCellTowers(cells []models.CellTower, radio string, max int) []models.CellTower {
	byKey := make(map[string]models.CellTower, len(cells))
	for _, c := range cells {
		if !validCell(c, radio) {
			continue
		}
		key := c.Key()
		if prev, ok := byKey[key]; ok && signalRank(prev.SignalStrength) >= signalRank(c.SignalStrength) {
			continue
		}
		byKey[key] = c
	}

	out := make([]models.CellTower, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := signalRank(out[i].SignalStrength), signalRank(out[j].SignalStrength)
		if ri != rj {
			return ri > rj
		}
		return out[i].Key() < out[j].Key()
	})
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// Fingerprint is a 128-bit murmur3 digest of the sorted MAC list. It
// depends only on the set of MACs, not on order or signal.
func Fingerprint(aps []models.AccessPoint) string {
	return ScanFingerprint(models.RadioScan{AccessPoints: aps})
}

// ScanFingerprint digests the MACs and cell identities of a scan. A
// WiFi-only scan hashes the same as Fingerprint of its access points.
func ScanFingerprint(scan models.RadioScan) string {
	keys := make([]string, 0, len(scan.AccessPoints)+len(scan.CellTowers))
	for _, ap := range scan.AccessPoints {
		keys = append(keys, ap.MAC)
	}
	for _, c := range scan.CellTowers {
		keys = append(keys, "cell:"+scan.RadioType+":"+c.Key())
	}
	sort.Strings(keys)
	h1, h2 := murmur3.Sum128([]byte(strings.Join(keys, "|")))
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// Normalize filters a raw scan. WiFi-only scans use MinSignalDBm and
// MaxAccessPoints; when usable cells are present the hybrid limits apply.
func (r *WifiResolver) Normalize(scan models.RadioScan) models.RadioScan {
	radio := strings.ToLower(strings.TrimSpace(scan.RadioType))
	if radio == "" {
		radio = r.cfg.DefaultRadioType
	}
	out := models.RadioScan{RadioType: radio}
	if len(scan.CellTowers) > 0 && models.ValidRadioType(radio) {
		out.CellTowers = NormalizeCellTowers(scan.CellTowers, radio, r.cfg.MaxCellTowers)
	}

	minSignal, max := r.cfg.MinSignalDBm, r.cfg.MaxAccessPoints
	if len(out.CellTowers) > 0 {
		minSignal, max = r.cfg.HybridMinSignalDBm, r.cfg.HybridMaxAccessPoints
	}
	out.AccessPoints = NormalizeAccessPoints(scan.AccessPoints, minSignal, max)
	if len(out.CellTowers) == 0 {
		out.RadioType = ""
	}
	return out
}

// Resolve returns coordinates for the access points. See Locate.
func (r *WifiResolver) Resolve(ctx context.Context, aps []models.AccessPoint) (models.Resolution, error) {
	return r.Locate(ctx, models.RadioScan{AccessPoints: aps})
}

// Locate returns coordinates for a WiFi, cell or hybrid scan: from the
// cache when an unexpired entry exists, otherwise from the first provider
// that succeeds. Fails with LocationUnresolved when no provider can
// resolve. Results that used any cell tower are tagged Cell.
func (r *WifiResolver) Locate(ctx context.Context, scan models.RadioScan) (models.Resolution, error) {
	usable := r.Normalize(scan)
	if usable.Empty() {
		return models.Resolution{}, apperr.LocationUnresolved("no usable radio observations",
			apperr.InvalidPayload("%d access points and %d cell towers given, none valid",
				len(scan.AccessPoints), len(scan.CellTowers)))
	}
	fp := ScanFingerprint(usable)

	if res, ok := r.fromCache(ctx, fp, usable); ok {
		metrics.WifiCacheHitsTotal.Inc()
		return res, nil
	}
	metrics.WifiCacheMissesTotal.Inc()

	// The flight outlives any single caller so joined callers are not
	// cancelled by whoever started it; ResolveTimeout bounds it instead.
	ch := r.group.DoChan(fp, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ResolveTimeout)
		defer cancel()
		if res, ok := r.fromCache(fctx, fp, usable); ok {
			return res, nil
		}
		return r.resolveChain(fctx, fp, usable)
	})

	select {
	case <-ctx.Done():
		return models.Resolution{}, apperr.LocationUnresolved("resolution abandoned", ctx.Err())
	case out := <-ch:
		if out.Err != nil {
			return models.Resolution{}, out.Err
		}
		return out.Val.(models.Resolution), nil
	}
}

func scanMethod(scan models.RadioScan) models.ResolutionMethod {
	if len(scan.CellTowers) > 0 {
		return models.MethodCell
	}
	return models.MethodWiFi
}

func (r *WifiResolver) fromCache(ctx context.Context, fp string, scan models.RadioScan) (models.Resolution, bool) {
	entry, err := r.cache.Get(ctx, fp, r.now())
	if err != nil {
		r.logger.Warn("wifi cache read failed", "fingerprint", fp, "error", err)
		return models.Resolution{}, false
	}
	if entry == nil {
		return models.Resolution{}, false
	}
	return models.Resolution{
		Latitude:       entry.Latitude,
		Longitude:      entry.Longitude,
		AccuracyMeters: entry.AccuracyMeters,
		Source:         models.SourceCache,
		Confidence:     entry.Confidence,
		Fingerprint:    fp,
		AccessPoints:   len(scan.AccessPoints),
		CellTowers:     len(scan.CellTowers),
		Method:         scanMethod(scan),
	}, true
}

type timeoutProvider interface {
	Timeout() time.Duration
}

func (r *WifiResolver) resolveChain(ctx context.Context, fp string, scan models.RadioScan) (models.Resolution, error) {
	if len(r.providers) == 0 {
		return models.Resolution{}, apperr.LocationUnresolved("no geolocation providers configured", nil)
	}

	var errs []error
	for _, p := range r.providers {
		if ctx.Err() != nil {
			errs = append(errs, apperr.ProviderTimeout(p.Name(), ctx.Err()))
			break
		}

		timeout := r.cfg.ProviderTimeout
		if tp, ok := p.(timeoutProvider); ok && tp.Timeout() > 0 {
			timeout = tp.Timeout()
		}
		pctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		res, err := p.Resolve(pctx, scan)
		cancel()
		metrics.ProviderRequestDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, apperr.ErrProviderTimeout) {
				err = apperr.ProviderTimeout(p.Name(), err)
			}
			metrics.ProviderRequestsTotal.WithLabelValues(p.Name(), apperr.CodeOf(err)).Inc()
			r.logger.Warn("geolocation provider failed", "provider", p.Name(), "fingerprint", fp, "error", err)
			errs = append(errs, err)
			continue
		}
		metrics.ProviderRequestsTotal.WithLabelValues(p.Name(), "ok").Inc()

		now := r.now()
		entry := models.WifiCacheEntry{
			Fingerprint:    fp,
			Latitude:       res.Latitude,
			Longitude:      res.Longitude,
			AccuracyMeters: res.AccuracyMeters,
			Source:         p.Name(),
			Confidence:     res.Confidence,
			AccessPoints:   len(scan.AccessPoints),
			CreatedAt:      now,
			ExpiresAt:      now.Add(r.cfg.CacheTTL),
		}
		if err := r.cache.Put(ctx, entry); err != nil {
			r.logger.Warn("wifi cache write failed", "fingerprint", fp, "error", err)
		}

		return models.Resolution{
			Latitude:       res.Latitude,
			Longitude:      res.Longitude,
			AccuracyMeters: res.AccuracyMeters,
			Source:         p.Name(),
			Confidence:     res.Confidence,
			Fingerprint:    fp,
			AccessPoints:   len(scan.AccessPoints),
			CellTowers:     len(scan.CellTowers),
			Method:         scanMethod(scan),
		}, nil
	}

	return models.Resolution{}, apperr.LocationUnresolved("all geolocation providers failed", errors.Join(errs...))
}

// PurgeExpired removes cache entries that have expired.
func (r *WifiResolver) PurgeExpired(ctx context.Context) (int64, error) {
	return r.cache.PurgeExpired(ctx, r.now())
}

// RunSweeper purges expired cache entries every interval until ctx is done.
func (r *WifiResolver) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.PurgeExpired(ctx)
			if err != nil {
				r.logger.Warn("wifi cache sweep failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Info("wifi cache swept", "removed", n)
			}
		}
	}
}
