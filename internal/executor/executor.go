// Copyright (c) 2024 santosr2
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package executor implements the cooldown enforcement engine.
//
// # Shape
//
// The engine is a fixed-point iteration over the resolved dependency graph.
// Each outer pass re-reads the graph, derives per-crate state (effective
// minimum age, exemptions, requirement origins, equality dependents), and
// collects crates whose selected release is younger than its minimum. Fresh
// crates are worked through a deque: each is downgraded to the newest
// acceptable older release via the resolver's precise-pin operation. A pin
// the resolver rejects is mined for blockers, which are enqueued at the
// front so the obstruction is cleared before the crate is retried from the
// back of the queue.
//
// A single goroutine owns the queue, crate states, and permanent-failure
// set. Only the registry age checks fan out, over a bounded errgroup, and
// their results are collected before any state is touched.
//
// # Termination
//
// The permanent-failure set grows monotonically: popping a coordinate that
// already failed is fatal, so no coordinate is worked twice. Each pass either
// pins (strictly older version, graph re-read), fails a coordinate, or
// enqueues a bounded set of parents. A hard ceiling on outer iterations
// guards the remaining pathological cases.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/santosr2/cargo-cooldown/internal/allowlist"
	"github.com/santosr2/cargo-cooldown/internal/cargo"
	"github.com/santosr2/cargo-cooldown/internal/config"
	"github.com/santosr2/cargo-cooldown/internal/registry"
	"github.com/santosr2/cargo-cooldown/internal/resolve"
)

// fetchConcurrency bounds the registry fan-out during graph inspection.
const fetchConcurrency = 8

// outerIterationFactor scales the hard ceiling on outer-loop passes:
// factor x non-exempt node count.
const outerIterationFactor = 4

// Registry is the crate metadata source.
type Registry interface {
	FetchVersion(ctx context.Context, name, version string) (registry.VersionMeta, error)
	ListVersions(ctx context.Context, name string) ([]registry.VersionMeta, error)
}

// MetadataReader produces a fresh snapshot of the resolved graph.
type MetadataReader interface {
	Read(ctx context.Context) (*cargo.Metadata, error)
}

// Pinner asks the underlying resolver to pin one crate precisely.
type Pinner interface {
	TryPinPrecise(ctx context.Context, name, current, target string) (cargo.PinResult, error)
}

// Store is the response cache. Get reports a hit; Put errors are non-fatal
// and logged by the executor.
type Store interface {
	Get(key string, out any) bool
	Put(key string, value any) error
}

// Params collects the executor's collaborators.
type Params struct {
	Config    *config.Config
	Allowlist *allowlist.Allowlist
	Cache     Store
	Registry  Registry
	Metadata  MetadataReader
	Pinner    Pinner
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

// Executor drives the cooldown fixed point.
type Executor struct {
	cfg      *config.Config
	allow    *allowlist.Allowlist
	cache    Store
	registry Registry
	metadata MetadataReader
	pinner   Pinner
	clock    clockwork.Clock
	log      *slog.Logger
}

// New builds an Executor. Clock and Logger default to the real clock and
// slog.Default.
func New(p Params) *Executor {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		cfg:      p.Config,
		allow:    p.Allowlist,
		cache:    p.Cache,
		registry: p.Registry,
		metadata: p.Metadata,
		pinner:   p.Pinner,
		clock:    clock,
		log:      log,
	}
}

// crateState is the per-node view derived on each outer pass.
type crateState struct {
	name           string
	currentVersion string
	minimumMinutes uint64
	exactAllowed   bool
}

// freshEntry is a crate queued for downgrade.
type freshEntry struct {
	id             string
	name           string
	currentVersion string
	minimumMinutes uint64
}

// requirementOrigin records which parent imposed which requirement, so the
// engine can escalate to parents when a crate cannot move.
type requirementOrigin struct {
	parentID    string
	parentName  string
	requirement string
}

type coord struct {
	name    string
	version string
}

// graphView is the state rebuilt from scratch on every outer pass.
type graphView struct {
	states             map[string]*crateState
	nameVersionToID    map[coord]string
	requirements       map[string][]string
	origins            map[string][]requirementOrigin
	equalityDependents map[string][]string
	fresh              []freshEntry
	nonExempt          int
}

// Run enforces the cooldown and returns once the graph has cooled down.
func (e *Executor) Run(ctx context.Context) error {
	perPackage := e.allow.PerPackageMinutes()
	globalMinutes, hasGlobal := e.allow.GlobalMinutes()

	visitedFailures := make(map[coord]struct{})
	iterations := 0

outer:
	for {
		md, err := e.metadata.Read(ctx)
		if err != nil {
			return fmt.Errorf("read cargo metadata: %w", err)
		}
		if md.Resolve == nil {
			return errors.New("cargo metadata output did not include a resolved dependency graph")
		}

		now := e.clock.Now()
		view, err := e.buildView(ctx, md, now, perPackage, globalMinutes, hasGlobal)
		if err != nil {
			return err
		}

		if len(view.fresh) == 0 {
			e.log.Info("dependency graph cooled down; continuing with cargo command")
			return nil
		}

		iterations++
		if limit := outerIterationFactor * max(view.nonExempt, 1); iterations > limit {
			return fmt.Errorf("cooldown engine exceeded %d iterations without converging; aborting", limit)
		}

		queue := newDeque(orderByEqualityDependents(view.fresh, view.equalityDependents))

		for queue.len() > 0 {
			fresh := queue.popFront()
			key := coord{fresh.name, fresh.currentVersion}
			if _, failed := visitedFailures[key]; failed {
				return fmt.Errorf(
					"no acceptable version found for %s (cooldown %d minutes); wait for the cooldown window, temporarily downgrade, or add a [patch.crates-io] override",
					fresh.name, fresh.minimumMinutes)
			}

			candidateList, err := e.fetchVersionList(ctx, fresh.name)
			if err != nil {
				if e.cfg.OfflineOK {
					e.log.Warn("skipping candidate discovery due to offline mode", "crate", fresh.name, "error", err)
					queue.pushBack(fresh)
					continue
				}
				return err
			}

			candidates := resolve.FilterCandidates(candidateList, fresh.minimumMinutes, now)
			if reqs := view.requirements[fresh.id]; len(reqs) > 0 {
				candidates = retain(candidates, func(c resolve.Candidate) bool {
					return resolve.SatisfiesAll(c.Version, reqs)
				})
			}
			candidates = retain(candidates, func(c resolve.Candidate) bool {
				return resolve.OlderThan(c.Version, fresh.currentVersion)
			})

			if len(candidates) == 0 {
				if e.enqueueParents(queue, view, fresh.id) {
					queue.pushBack(fresh)
					continue
				}
				visitedFailures[key] = struct{}{}
				return fmt.Errorf(
					"crate %s lacks versions older than %d minutes that satisfy the semver constraint; wait for the cooldown to elapse, relax the dependency requirement, or pin explicitly via [patch.crates-io]",
					fresh.name, fresh.minimumMinutes)
			}

			requeued := false
			for _, candidate := range candidates {
				if candidate.Version == fresh.currentVersion {
					continue
				}
				e.log.Info("attempting pin",
					"crate", fresh.name,
					"current", fresh.currentVersion,
					"candidate", candidate.Version)

				result, err := e.pinner.TryPinPrecise(ctx, fresh.name, fresh.currentVersion, candidate.Version)
				if err != nil {
					if e.cfg.OfflineOK {
						e.log.Warn("pin attempt failed in offline mode",
							"crate", fresh.name, "candidate", candidate.Version, "error", err)
						queue.pushBack(fresh)
						requeued = true
						break
					}
					return err
				}

				if result.Applied {
					e.log.Info("pin applied", "crate", fresh.name, "pinned", candidate.Version)
					continue outer
				}

				blockers := cargo.ParseBlockers(result.Stdout, result.Stderr)
				if len(blockers) == 0 {
					// The resolver said no without naming anyone; this
					// candidate just didn't work.
					e.log.Debug("cargo update rejected candidate",
						"crate", fresh.name, "candidate", candidate.Version)
					continue
				}
				e.enqueueBlockers(queue, view, blockers)
				queue.pushBack(fresh)
				requeued = true
				break
			}
			if requeued {
				continue
			}

			visitedFailures[key] = struct{}{}
			return fmt.Errorf(
				"unable to pin crate %s to an older compatible release within the cooldown window (%d minutes); try waiting or adding a manual override",
				fresh.name, fresh.minimumMinutes)
		}

		return errors.New("reached a fixed point without resolving all fresh dependencies; aborting to avoid an endless loop")
	}
}

// buildView walks one metadata snapshot into the per-pass state and runs the
// age checks against the registry.
func (e *Executor) buildView(
	ctx context.Context,
	md *cargo.Metadata,
	now time.Time,
	perPackage map[string]uint64,
	globalMinutes uint64,
	hasGlobal bool,
) (*graphView, error) {
	packages := make(map[string]*cargo.Package, len(md.Packages))
	for i := range md.Packages {
		packages[md.Packages[i].ID] = &md.Packages[i]
	}

	view := &graphView{
		states:             make(map[string]*crateState),
		nameVersionToID:    make(map[coord]string, len(md.Packages)),
		requirements:       make(map[string][]string),
		origins:            make(map[string][]requirementOrigin),
		equalityDependents: make(map[string][]string),
	}
	for id, pkg := range packages {
		view.nameVersionToID[coord{pkg.Name, pkg.Version}] = id
	}

	type ageCheck struct {
		id      string
		name    string
		version string
		minimum uint64
	}
	var checks []ageCheck
	seen := make(map[string]struct{}, len(md.Resolve.Nodes))

	for _, node := range md.Resolve.Nodes {
		if _, dup := seen[node.ID]; dup {
			continue
		}
		seen[node.ID] = struct{}{}

		pkg, ok := packages[node.ID]
		if !ok || pkg.Source == "" {
			continue
		}
		if !e.cfg.IsRegistryAllowed(pkg.Source) {
			e.log.Debug("skipping non-crates.io registry dependency",
				"crate", pkg.Name, "source", pkg.Source)
			continue
		}

		minimum := e.cfg.CooldownMinutes
		if hasGlobal && globalMinutes < minimum {
			minimum = globalMinutes
		}
		if m, ok := perPackage[pkg.Name]; ok && m < minimum {
			minimum = m
		}
		exactAllowed := e.allow.IsExactAllowed(pkg.Name, pkg.Version)

		view.states[node.ID] = &crateState{
			name:           pkg.Name,
			currentVersion: pkg.Version,
			minimumMinutes: minimum,
			exactAllowed:   exactAllowed,
		}

		for _, dep := range node.Deps {
			depPkg, ok := packages[dep.Pkg]
			if !ok || depPkg.Source == "" || !e.cfg.IsRegistryAllowed(depPkg.Source) {
				continue
			}
			manifestDep := cargo.FindManifestDependency(pkg.Dependencies, dep.Name, depPkg.Name)
			if manifestDep == nil {
				continue
			}

			if !contains(view.requirements[dep.Pkg], manifestDep.Req) {
				view.requirements[dep.Pkg] = append(view.requirements[dep.Pkg], manifestDep.Req)
			}
			origin := requirementOrigin{parentID: node.ID, parentName: pkg.Name, requirement: manifestDep.Req}
			if !containsOrigin(view.origins[dep.Pkg], origin) {
				view.origins[dep.Pkg] = append(view.origins[dep.Pkg], origin)
			}
			if resolve.IsExactRequirement(manifestDep.Req) {
				view.equalityDependents[dep.Pkg] = append(view.equalityDependents[dep.Pkg], node.ID)
			}
		}

		if exactAllowed || minimum == 0 {
			continue
		}
		view.nonExempt++
		checks = append(checks, ageCheck{id: node.ID, name: pkg.Name, version: pkg.Version, minimum: minimum})
	}

	// Age checks fan out; the queue and states stay single-owner. Results
	// land in per-index slots, so no locking is needed.
	metas := make([]*registry.VersionMeta, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, chk := range checks {
		i, chk := i, chk
		g.Go(func() error {
			meta, err := e.fetchVersionMeta(gctx, chk.name, chk.version)
			if err != nil {
				if e.cfg.OfflineOK {
					e.log.Warn("skipping metadata fetch due to offline mode",
						"crate", chk.name, "error", err)
					return nil
				}
				return err
			}
			metas[i] = &meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, chk := range checks {
		meta := metas[i]
		if meta == nil {
			continue
		}
		ageMinutes := int64(now.Sub(meta.CreatedAt) / time.Minute)
		e.log.Debug("crate age inspected",
			"crate", chk.name,
			"age_minutes", ageMinutes,
			"minimum_minutes", chk.minimum,
			"created_at", meta.CreatedAt)
		if ageMinutes < int64(chk.minimum) {
			view.fresh = append(view.fresh, freshEntry{
				id:             chk.id,
				name:           chk.name,
				currentVersion: chk.version,
				minimumMinutes: chk.minimum,
			})
		}
	}

	return view, nil
}

// enqueueParents pushes every non-exempt parent of id to the queue front and
// reports whether any was queued. Parents are downgraded first; the child is
// retried once their requirements relax.
func (e *Executor) enqueueParents(queue *deque, view *graphView, id string) bool {
	queued := false
	for _, origin := range view.origins[id] {
		state, ok := view.states[origin.parentID]
		if !ok || state.exactAllowed || state.minimumMinutes == 0 {
			continue
		}
		queue.pushFront(freshEntry{
			id:             origin.parentID,
			name:           origin.parentName,
			currentVersion: state.currentVersion,
			minimumMinutes: state.minimumMinutes,
		})
		queued = true
	}
	return queued
}

// enqueueBlockers resolves each blocker to a known graph node and pushes the
// non-exempt ones to the queue front.
func (e *Executor) enqueueBlockers(queue *deque, view *graphView, blockers []cargo.Blocker) {
	for _, blocker := range blockers {
		id := e.resolveBlockerID(view, blocker)
		if id == "" {
			continue
		}
		state := view.states[id]
		if state.exactAllowed || state.minimumMinutes == 0 {
			e.log.Debug("blocking crate is exempt from cooldown; skipping downgrade", "crate", state.name)
			continue
		}
		queue.pushFront(freshEntry{
			id:             id,
			name:           state.name,
			currentVersion: state.currentVersion,
			minimumMinutes: state.minimumMinutes,
		})
	}
}

// resolveBlockerID maps a blocker to a node id: by (name, version) when the
// diagnostic carried a version, falling back to the first state with a
// matching name.
func (e *Executor) resolveBlockerID(view *graphView, blocker cargo.Blocker) string {
	if blocker.Version != "" {
		if id, ok := view.nameVersionToID[coord{blocker.Name, blocker.Version}]; ok {
			if _, tracked := view.states[id]; tracked {
				return id
			}
			// Known coordinate, but not subject to the cooldown (path dep,
			// disallowed registry): nothing to downgrade.
			return ""
		}
	}
	for id, state := range view.states {
		if state.name == blocker.Name {
			return id
		}
	}
	return ""
}

func (e *Executor) fetchVersionMeta(ctx context.Context, name, version string) (registry.VersionMeta, error) {
	key := name + "/" + version
	var meta registry.VersionMeta
	if e.cache.Get(key, &meta) {
		return meta, nil
	}
	meta, err := e.registry.FetchVersion(ctx, name, version)
	if err != nil {
		return registry.VersionMeta{}, err
	}
	if err := e.cache.Put(key, meta); err != nil {
		e.log.Warn("cache write failed", "key", key, "error", err)
	}
	return meta, nil
}

func (e *Executor) fetchVersionList(ctx context.Context, name string) ([]registry.VersionMeta, error) {
	key := name + "/_list"
	var list []registry.VersionMeta
	if e.cache.Get(key, &list) {
		return list, nil
	}
	list, err := e.registry.ListVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Put(key, list); err != nil {
		e.log.Warn("cache write failed", "key", key, "error", err)
	}
	return list, nil
}

// orderByEqualityDependents sorts fresh entries ascending by how many other
// fresh entries pin them with an exact requirement. A crate held by a fresh
// parent's =X cannot move until the parent does, so it goes last. The sort
// is stable; ties keep graph order.
func orderByEqualityDependents(fresh []freshEntry, equalityDependents map[string][]string) []freshEntry {
	freshIDs := make(map[string]struct{}, len(fresh))
	for _, f := range fresh {
		freshIDs[f.id] = struct{}{}
	}
	count := func(id string) int {
		n := 0
		for _, dependent := range equalityDependents[id] {
			if _, ok := freshIDs[dependent]; ok {
				n++
			}
		}
		return n
	}

	sorted := make([]freshEntry, len(fresh))
	copy(sorted, fresh)
	sort.SliceStable(sorted, func(i, j int) bool {
		return count(sorted[i].id) < count(sorted[j].id)
	})
	return sorted
}

func retain(candidates []resolve.Candidate, keep func(resolve.Candidate) bool) []resolve.Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func containsOrigin(list []requirementOrigin, origin requirementOrigin) bool {
	for _, o := range list {
		if o.parentID == origin.parentID && o.requirement == origin.requirement {
			return true
		}
	}
	return false
}
