package drone

import (
	"sort"

	"go.uber.org/zap"

	"dronecraft.ai/internal/sim/cell"
	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/jobs"
)

// Step advances the drone by one tick.
func (d *Drone) Step(env Env, reg Registry, now uint64) {
	if d.Retired {
		return
	}
	if d.Energy <= 0 && d.State != Charging && !(d.State == ReturningHome && d.retiring) {
		d.startCharging(reg, now)
		if d.Retired {
			return
		}
	}
	if d.Job != nil && !d.validateJob(reg, now) {
		return
	}

	switch d.State {
	case Idle, FindingJob:
		d.stepSearch(env, reg, now)
	case TravelingToFetch:
		d.stepFetch(env, reg, now)
	case TravelingToBuild:
		d.stepBuild(env, reg, now)
	case TravelingToClear:
		d.stepClear(env, reg, now)
	case DumpingItems:
		d.stepDump(env, reg, now)
	case Charging:
		d.stepCharge(env, now)
	case ReturningHome:
		d.stepReturn(env, now)
	}
}

// validateJob drops the job when the claim was lost, the job changed kind
// underneath the drone, or the watchdog expired.
func (d *Drone) validateJob(reg Registry, now uint64) bool {
	ref := d.Job
	cur, ok := reg.Lookup(ref.Pos)
	switch {
	case !reg.IsAssignedTo(ref.Pos, d.ID) || !ok:
		d.emit(now, "JOB_LOST", &ref.Pos, ref.Kind.String())
	case cur.Kind != ref.Kind:
		reg.Release(ref.Pos, d.ID)
		d.emit(now, "JOB_CHANGED", &ref.Pos, ref.Kind.String()+"->"+cur.Kind.String())
	case d.cfg.WatchdogTicks > 0 && now-d.jobSince >= uint64(d.cfg.WatchdogTicks):
		reg.Release(ref.Pos, d.ID)
		d.log.Info("job watchdog expired", zap.Stringer("pos", ref.Pos), zap.Stringer("kind", ref.Kind))
		d.emit(now, "WATCHDOG", &ref.Pos, ref.Kind.String())
		d.dropJob()
		d.setState(Idle, now)
		return false
	default:
		if cur.Target != ref.Target {
			ref.Target = cur.Target
		}
		return true
	}
	carriedHarvest := ref.Kind.Clears() && !d.Carried.IsEmpty()
	d.dropJob()
	if carriedHarvest {
		d.setState(DumpingItems, now)
	} else {
		d.setState(Idle, now)
	}
	return false
}

func (d *Drone) dropJob() {
	d.Job = nil
	d.fetchFrom = nil
	d.resumeClear = false
}

// releaseJob gives the claim back and forgets the job.
func (d *Drone) releaseJob(reg Registry) {
	if d.Job != nil {
		reg.Release(d.Job.Pos, d.ID)
	}
	d.dropJob()
}

// moveToward advances toward target and reports whether the drone is within
// reach (before moving).
func (d *Drone) moveToward(target grid.Coord, costsEnergy bool) bool {
	reach := d.cfg.Reach
	if grid.DistSq(d.Pos, target) <= reach*reach {
		return true
	}
	d.Pos = grid.StepToward(d.Pos, target, d.cfg.Speed)
	if costsEnergy && d.Energy > 0 {
		d.Energy--
	}
	return false
}

func (d *Drone) spend(n int) {
	d.Energy -= n
	if d.Energy < 0 {
		d.Energy = 0
	}
}

// stepSearch runs for a drone without a job. A full drone dumps first; if
// the last dump found no storage it searches once (clear jobs only) before
// trying to dump again.
func (d *Drone) stepSearch(env Env, reg Registry, now uint64) {
	if d.Home != nil && d.cfg.IdleRetireTicks > 0 && now-d.idleSince >= uint64(d.cfg.IdleRetireTicks) {
		d.retiring = true
		d.emit(now, "RETIRING", d.Home, "")
		d.setState(ReturningHome, now)
		return
	}
	if now < d.nextSearch || now < d.holdUntil {
		return
	}
	if !d.Carried.IsEmpty() && d.Carried.Full() {
		if !d.dumpFailed {
			d.setState(DumpingItems, now)
			return
		}
		d.dumpFailed = false
	}
	d.setState(FindingJob, now)
	d.findJob(env, reg, now)
}

func (d *Drone) findJob(env Env, reg Registry, now uint64) {
	job, ok := reg.RequestJob(d.Pos, d.ID, d.CanBuild())
	if !ok {
		if d.backoff <= 0 {
			d.backoff = d.cfg.SearchMinTicks
		} else {
			d.backoff *= 2
		}
		if d.backoff > d.cfg.SearchMaxTicks {
			d.backoff = d.cfg.SearchMaxTicks
		}
		d.nextSearch = now + uint64(d.backoff)
		return
	}
	d.backoff = 0
	d.nextSearch = 0
	d.idleSince = now
	d.Job = &JobRef{Pos: job.Pos, Kind: job.Kind, Target: job.Target}
	d.jobSince = now
	d.emit(now, "CLAIM", &job.Pos, job.Kind.String())

	if job.Kind.Clears() {
		d.setState(TravelingToClear, now)
		return
	}
	mat, needs := env.MaterialFor(job.Target.Block)
	if !needs || d.Carried.Count(mat) > 0 {
		reg.RegisterIntent(job.Pos, job.Target, jobs.PhaseEnRoute)
		d.setState(TravelingToBuild, now)
		return
	}
	if !d.locateSource(env, mat) {
		d.missingItems(reg, now, mat)
		return
	}
	d.setState(TravelingToFetch, now)
}

// locateSource prefers the home storage network over raw proximity.
func (d *Drone) locateSource(env Env, item string) bool {
	if d.Home != nil {
		if p, ok := env.FindNetworkInventoryWith(*d.Home, item); ok {
			d.fetchFrom = &p
			return true
		}
	}
	if p, ok := env.FindNearbyInventoryWith(d.Pos, d.cfg.FetchRadius, item); ok {
		d.fetchFrom = &p
		return true
	}
	d.fetchFrom = nil
	return false
}

func (d *Drone) missingItems(reg Registry, now uint64, item string) {
	ref := d.Job
	reg.RegisterIntent(ref.Pos, ref.Target, jobs.PhaseMissingItems)
	reg.Release(ref.Pos, d.ID)
	d.emit(now, "MISSING_ITEMS", &ref.Pos, item)
	d.dropJob()
	d.setState(Idle, now)
}

func (d *Drone) stepFetch(env Env, reg Registry, now uint64) {
	mat, needs := env.MaterialFor(d.Job.Target.Block)
	if !needs || d.Carried.Count(mat) > 0 {
		d.setState(TravelingToBuild, now)
		return
	}
	if d.fetchFrom == nil && !d.locateSource(env, mat) {
		d.missingItems(reg, now, mat)
		return
	}
	if !d.moveToward(*d.fetchFrom, true) {
		return
	}
	src := *d.fetchFrom
	if env.TransferItem(src, d.Carried, mat, 1, true) != 0 {
		// Source emptied or drone full; look again next tick.
		d.fetchFrom = nil
		if !d.locateSource(env, mat) {
			d.missingItems(reg, now, mat)
		}
		return
	}
	if env.TransferItem(src, d.Carried, mat, 1, false) != 0 {
		d.fetchFrom = nil
		return
	}
	d.fetchFrom = nil
	d.emit(now, "FETCH", &src, mat)
	reg.RegisterIntent(d.Job.Pos, d.Job.Target, jobs.PhaseEnRoute)
	d.setState(TravelingToBuild, now)
}

func (d *Drone) stepBuild(env Env, reg Registry, now uint64) {
	ref := d.Job
	if !d.moveToward(ref.Pos, true) {
		return
	}
	mat, needs := env.MaterialFor(ref.Target.Block)
	if needs && d.Carried.Count(mat) == 0 {
		d.setState(TravelingToFetch, now)
		return
	}

	reality := env.ReadCell(ref.Pos)
	if reality == ref.Target {
		reg.Complete(ref.Pos, d.ID)
		d.dropJob()
		d.holdUntil = now + uint64(d.cfg.LingerTicks)
		d.setState(FindingJob, now)
		return
	}
	if !reality.IsEmpty() && !reality.IsMarker() && !env.IsReplaceable(reality) {
		reg.RegisterDirectDeconstruct(ref.Pos, cell.Marker(ref.Target))
		reg.Release(ref.Pos, d.ID)
		d.emit(now, "OBSTRUCTED", &ref.Pos, reality.String())
		d.dropJob()
		d.setState(FindingJob, now)
		return
	}

	if needs {
		d.Carried.Extract(mat, 1, false)
	}
	ok := env.WriteCellBy(d.ID, "build", ref.Pos, ref.Target)
	if ok {
		ok = env.ReadCell(ref.Pos) == ref.Target
	}
	if !ok {
		if needs {
			d.Carried.Insert(mat, 1, false)
		}
		d.log.Warn("build write rejected", zap.Stringer("pos", ref.Pos), zap.Stringer("target", ref.Target))
		d.emit(now, "WRITE_FAILED", &ref.Pos, ref.Target.String())
		d.releaseJob(reg)
		d.holdUntil = now + 1
		d.setState(FindingJob, now)
		return
	}
	if blob, ok := env.IntentData(ref.Pos); ok && len(blob) > 0 {
		env.WriteAttachedData(ref.Pos, blob)
	}
	d.spend(d.cfg.BuildEnergy)
	reg.Complete(ref.Pos, d.ID)
	d.emit(now, "BUILT", &ref.Pos, ref.Target.String())
	d.dropJob()
	d.holdUntil = now + uint64(d.cfg.LingerTicks)
	d.setState(FindingJob, now)
}

func (d *Drone) stepClear(env Env, reg Registry, now uint64) {
	ref := d.Job
	if !d.moveToward(ref.Pos, true) {
		return
	}
	occ := env.Occupant(ref.Pos)
	if (occ.Kind == cell.OccupantPlain || occ.Kind == cell.OccupantContainer) && !env.IsBreakable(occ.State.Block) {
		// Sleeps until the next wake.
		reg.Hibernate(ref.Pos, d.ID)
		d.emit(now, "UNBREAKABLE", &ref.Pos, occ.State.Block)
		d.dropJob()
		d.setState(FindingJob, now)
		return
	}
	var drop string
	switch occ.Kind {
	case cell.OccupantNone, cell.OccupantMarker:
	case cell.OccupantPlain:
		drop = env.DropsFor(occ.State.Block)
	case cell.OccupantContainer:
		if !d.extractContainer(env, ref.Pos, occ.Items) {
			d.resumeClear = true
			d.setState(DumpingItems, now)
			return
		}
		drop = env.DropsFor(occ.State.Block)
	}
	if drop != "" && d.Carried.Insert(drop, 1, true) != 0 {
		d.resumeClear = true
		d.setState(DumpingItems, now)
		return
	}

	if !env.WriteCellBy(d.ID, "clear", ref.Pos, ref.Target) {
		d.log.Warn("clear write rejected", zap.Stringer("pos", ref.Pos), zap.Stringer("after", ref.Target))
		d.emit(now, "WRITE_FAILED", &ref.Pos, ref.Target.String())
		d.releaseJob(reg)
		d.holdUntil = now + 1
		d.setState(FindingJob, now)
		return
	}
	if drop != "" {
		d.Carried.Insert(drop, 1, false)
	}
	d.spend(d.cfg.BuildEnergy)
	reg.Complete(ref.Pos, d.ID)
	d.emit(now, "CLEARED", &ref.Pos, occ.Kind.String())
	d.dropJob()
	if d.Carried.IsEmpty() {
		d.setState(Idle, now)
	} else {
		d.setState(DumpingItems, now)
	}
}

// extractContainer moves as much of the container's contents into the drone
// as fits and reports whether the container is now empty.
func (d *Drone) extractContainer(env Env, pos grid.Coord, items map[string]int) bool {
	names := make([]string, 0, len(items))
	for k := range items {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, item := range names {
		env.TransferItem(pos, d.Carried, item, items[item], false)
	}
	left, _ := env.Inventory(pos)
	return len(left) == 0
}

func (d *Drone) stepDump(env Env, reg Registry, now uint64) {
	stacks := d.Carried.List()
	if len(stacks) == 0 {
		d.dumpTo = nil
		if d.resumeClear && d.Job != nil {
			d.resumeClear = false
			d.jobSince = now
			d.setState(TravelingToClear, now)
			return
		}
		d.setState(Idle, now)
		return
	}
	item := stacks[0].Item
	if d.dumpTo == nil || env.StoreItem(*d.dumpTo, d.Carried, item, 1, true) != 0 {
		dest, ok := d.findAcceptor(env, item)
		if !ok {
			d.emit(now, "NO_STORAGE", nil, item)
			if d.Job != nil {
				d.releaseJob(reg)
			}
			d.dumpTo = nil
			d.dumpFailed = true
			d.nextSearch = now + uint64(d.cfg.SearchMaxTicks)
			idle := d.idleSince
			d.setState(Idle, now)
			d.idleSince = idle
			return
		}
		d.dumpTo = &dest
	}
	if !d.moveToward(*d.dumpTo, true) {
		return
	}
	n := d.Carried.Count(item)
	if rem := env.StoreItem(*d.dumpTo, d.Carried, item, n, false); rem > 0 {
		d.dumpTo = nil
	}
	d.dumpFailed = false
}

// findAcceptor tries the home network, nearby storage, then the home
// container itself.
func (d *Drone) findAcceptor(env Env, item string) (grid.Coord, bool) {
	if d.Home != nil {
		if p, ok := env.FindNetworkAcceptor(*d.Home, item); ok {
			return p, true
		}
	}
	if p, ok := env.FindNearbyAcceptor(d.Pos, d.cfg.DumpRadius, item); ok {
		return p, true
	}
	if d.Home != nil && env.Deposit(*d.Home, item, 1, true) == 0 {
		return *d.Home, true
	}
	return grid.Coord{}, false
}

func (d *Drone) startCharging(reg Registry, now uint64) {
	d.releaseJob(reg)
	d.dumpTo = nil
	if d.Home == nil {
		d.retire(now, "orphaned")
		return
	}
	d.emit(now, "EXHAUSTED", d.Home, "")
	d.setState(Charging, now)
}

func (d *Drone) stepCharge(env Env, now uint64) {
	if d.Home == nil {
		d.retire(now, "orphaned")
		return
	}
	if !d.moveToward(*d.Home, false) {
		return
	}
	if _, ok := env.Inventory(*d.Home); !ok {
		d.retire(now, "home lost")
		return
	}
	d.Energy += d.cfg.ChargePerTick
	if d.Energy >= d.cfg.MaxEnergy {
		d.Energy = d.cfg.MaxEnergy
		d.setState(Idle, now)
	}
}

func (d *Drone) stepReturn(env Env, now uint64) {
	if d.Home == nil {
		d.retire(now, "orphaned")
		return
	}
	home := *d.Home
	if !d.moveToward(home, false) {
		return
	}
	if _, ok := env.Inventory(home); !ok {
		d.retire(now, "home lost")
		return
	}
	for _, st := range d.Carried.List() {
		env.StoreItem(home, d.Carried, st.Item, st.Count, false)
	}
	if !d.Carried.IsEmpty() || env.Deposit(home, Item, 1, true) != 0 {
		// Home is full; stay in service.
		d.retiring = false
		d.emit(now, "RETIRE_BLOCKED", &home, "")
		d.setState(Idle, now)
		return
	}
	env.Deposit(home, Item, 1, false)
	d.retire(now, "stored")
}

func (d *Drone) retire(now uint64, reason string) {
	d.Retired = true
	d.retiring = false
	d.dropJob()
	d.emit(now, "RETIRED", nil, reason)
	d.log.Info("drone retired", zap.String("reason", reason))
}
