// Package resolve maps raw athlete and school references to stored identities,
// creating entities on first sight.
//
// Each entity kind has its own keyed critical section around lookup-or-create.
// Two different schools may be created concurrently; two callers racing on the
// same school serialize and the second one finds the first one's row. When an
// athlete needs its school resolved, the school lock is taken while the athlete
// lock is held, never the other way round.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/trackmeet-harvester/internal/harvest"
	"github.com/JakeFAU/trackmeet-harvester/internal/metrics"
)

// Resolver resolves references against an EntityStore, fetching detail pages
// for entities it has not seen.
type Resolver struct {
	fetcher harvest.Fetcher
	store   harvest.EntityStore
	logger  *zap.Logger

	schoolLocks  *keyedMutex
	athleteLocks *keyedMutex

	// school page URL -> stored id
	schoolRefs sync.Map
}

// New builds a Resolver.
func New(fetcher harvest.Fetcher, store harvest.EntityStore, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		fetcher:      fetcher,
		store:        store,
		logger:       logger.Named("resolver"),
		schoolLocks:  newKeyedMutex(),
		athleteLocks: newKeyedMutex(),
	}
}

// Known reports whether the athlete is already stored.
func (r *Resolver) Known(ctx context.Context, id int64) (bool, error) {
	_, err := r.store.GetAthlete(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, harvest.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("lookup athlete %d: %w", id, err)
	}
}

// ResolveSchool returns the id of the school whose page is ref. The page is
// fetched before the critical section; the lookup and insert happen inside it.
func (r *Resolver) ResolveSchool(ctx context.Context, ref string) (int64, error) {
	if id, ok := r.schoolRefs.Load(ref); ok {
		return id.(int64), nil
	}

	page, err := r.fetcher.Fetch(ctx, ref)
	if err != nil {
		return 0, &harvest.EntityFetchError{Kind: "school", Reference: ref, Err: err}
	}
	doc, err := page.Document()
	if err != nil {
		return 0, &harvest.EntityFetchError{Kind: "school", Reference: ref, Err: err}
	}
	parsed, err := parseSchoolPage(doc)
	if err != nil {
		return 0, &harvest.EntityFetchError{Kind: "school", Reference: ref, Err: err}
	}

	id, err := r.lookupOrCreateSchool(ctx, parsed)
	if err != nil {
		return 0, err
	}
	r.schoolRefs.Store(ref, id)
	return id, nil
}

func (r *Resolver) lookupOrCreateSchool(ctx context.Context, parsed schoolPage) (int64, error) {
	key := NormalizeName(parsed.name)
	unlock := r.schoolLocks.Lock(key)
	defer unlock()

	existing, err := r.store.GetSchoolByKey(ctx, key)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, harvest.ErrNotFound) {
		return 0, fmt.Errorf("lookup school %q: %w", key, err)
	}

	id, err := r.store.InsertSchool(ctx, harvest.School{
		Name:       parsed.name,
		Key:        key,
		Division:   parsed.division,
		Conference: parsed.conference,
	})
	if errors.Is(err, harvest.ErrDuplicate) {
		// Another process sharing the store created it first.
		existing, err = r.store.GetSchoolByKey(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("reload school %q: %w", key, err)
		}
		return existing.ID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("insert school %q: %w", key, err)
	}
	metrics.ObserveEntityCreated("school")
	r.logger.Info("school created",
		zap.Int64("school_id", id),
		zap.String("name", parsed.name),
		zap.String("division", string(parsed.division)),
	)
	return id, nil
}

// ResolveAthlete returns the id of the athlete linked by ref, creating the
// athlete and its school when missing. teamRef is the team link printed next
// to the athlete in the result row; it is used when the athlete page carries
// no team link of its own.
func (r *Resolver) ResolveAthlete(ctx context.Context, ref, teamRef string, sex harvest.Sex) (int64, error) {
	id, err := AthleteID(ref)
	if err != nil {
		return 0, err
	}

	unlock := r.athleteLocks.Lock(strconv.FormatInt(id, 10))
	defer unlock()

	known, err := r.Known(ctx, id)
	if err != nil {
		return 0, err
	}
	if known {
		return id, nil
	}

	page, err := r.fetcher.Fetch(ctx, ref)
	if err != nil {
		return 0, &harvest.EntityFetchError{Kind: "athlete", Reference: ref, Err: err}
	}
	doc, err := page.Document()
	if err != nil {
		return 0, &harvest.EntityFetchError{Kind: "athlete", Reference: ref, Err: err}
	}
	parsed, err := parseAthletePage(doc)
	if err != nil {
		return 0, &harvest.EntityFetchError{Kind: "athlete", Reference: ref, Err: err}
	}
	schoolRef := parsed.schoolRef
	if schoolRef == "" {
		schoolRef = teamRef
	}
	if schoolRef == "" {
		return 0, &harvest.EntityFetchError{Kind: "athlete", Reference: ref, Err: errors.New("no team link")}
	}

	schoolID, err := r.ResolveSchool(ctx, schoolRef)
	if err != nil {
		return 0, err
	}

	err = r.store.InsertAthlete(ctx, harvest.Athlete{
		ID:        id,
		Name:      parsed.name,
		ClassYear: parsed.classYear,
		SchoolID:  schoolID,
		Sex:       sex,
	})
	if errors.Is(err, harvest.ErrDuplicate) {
		return id, nil
	}
	if err != nil {
		return 0, fmt.Errorf("insert athlete %d: %w", id, err)
	}
	metrics.ObserveEntityCreated("athlete")
	r.logger.Info("athlete created",
		zap.Int64("athlete_id", id),
		zap.String("name", parsed.name),
		zap.Int64("school_id", schoolID),
	)
	return id, nil
}
