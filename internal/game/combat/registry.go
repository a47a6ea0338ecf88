package combat

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/cory-johannsen/skirmish/internal/broadcast"
	"github.com/cory-johannsen/skirmish/internal/game/character"
	"github.com/cory-johannsen/skirmish/internal/game/content"
	"github.com/cory-johannsen/skirmish/internal/game/dice"
	"github.com/cory-johannsen/skirmish/internal/game/world"
)

var tracer = otel.Tracer("github.com/cory-johannsen/skirmish/internal/game/combat")

// Notifier delivers outbound messages to an audience of players.
type Notifier interface {
	Broadcast(a broadcast.Audience, env broadcast.Envelope) int
}

// DeathObserver is told about every creature defeated in combat.
type DeathObserver interface {
	CreatureDefeated(ctx context.Context, c world.Creature)
}

// RegistryConfig tunes session behaviour.
type RegistryConfig struct {
	RoundDuration      time.Duration
	MaxRounds          int
	FleeChance         float64
	FleeCooldownRounds int
	// EndedRetention keeps ended sessions readable by id for this long.
	EndedRetention time.Duration
	Probability    Params
	// PlayerInitiative is the dice expression rolled for joining players.
	PlayerInitiative string
}

// RegistryDeps are the collaborators of a Registry. Deaths, AI and Clock are
// optional.
type RegistryDeps struct {
	Users     character.Store
	Locations world.Store
	Defs      Definitions
	Notifier  Notifier
	Source    dice.Source
	Deaths    DeathObserver
	AI        CreatureAI
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Registry owns every combat session. One mutex serialises all mutations,
// whether they come from client calls or from tick-driven round processing.
type Registry struct {
	mu         sync.Mutex
	sessions   map[string]*Session // sessionID → session, ENDED ones until pruned
	byLocation map[string]*Session // locationID → the non-ENDED session
	byUser     map[string]string   // userID → sessionID

	cfg       RegistryConfig
	resolver  *Resolver
	users     character.Store
	locations world.Store
	defs      Definitions
	notifier  Notifier
	src       dice.Source
	roller    *dice.Roller
	initExpr  dice.Expression
	deaths    DeathObserver
	logger    *zap.Logger
	now       func() time.Time
}

// NewRegistry creates an empty Registry.
//
// Precondition: deps.Users, deps.Locations, deps.Defs, deps.Notifier,
// deps.Source and deps.Logger are non-nil; cfg.Probability is valid.
func NewRegistry(cfg RegistryConfig, deps RegistryDeps) (*Registry, error) {
	if err := cfg.Probability.Validate(); err != nil {
		return nil, fmt.Errorf("probability params: %w", err)
	}
	initExpr := DefaultInitiative
	if cfg.PlayerInitiative != "" {
		e, err := dice.Parse(cfg.PlayerInitiative)
		if err != nil {
			return nil, fmt.Errorf("player initiative: %w", err)
		}
		initExpr = e
	}
	ai := deps.AI
	if ai == nil {
		ai = StickyTargetAI{}
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions:   make(map[string]*Session),
		byLocation: make(map[string]*Session),
		byUser:     make(map[string]string),
		cfg:        cfg,
		resolver: &Resolver{
			Engine:        NewProbabilityEngine(cfg.Probability),
			Defs:          deps.Defs,
			AI:            ai,
			MaxRounds:     cfg.MaxRounds,
			RoundDuration: cfg.RoundDuration,
		},
		users:     deps.Users,
		locations: deps.Locations,
		defs:      deps.Defs,
		notifier:  deps.Notifier,
		src:       deps.Source,
		roller:    dice.NewRoller(deps.Source, deps.Logger),
		initExpr:  initExpr,
		deaths:    deps.Deaths,
		logger:    deps.Logger,
		now:       now,
	}, nil
}

// SetDeathObserver wires the world maintainer in after construction.
func (r *Registry) SetDeathObserver(d DeathObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deaths = d
}

// StartCombat joins userID to the live session at locationID, creating one
// seeded with the location's creatures when none exists. When creating,
// targetCreatureIDs (if any) restrict which creatures are engaged; when
// joining an existing session they are ignored.
//
// Postcondition: on success the user is indexed to the returned session and
// the session is ACTIVE if it has a living player and a living creature.
func (r *Registry) StartCombat(ctx context.Context, userID, locationID string, targetCreatureIDs []string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUser[userID]; ok {
		return Snapshot{}, ErrAlreadyInCombat
	}
	user, err := r.users.Get(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading user %s: %w", userID, err)
	}
	if user.CurrentHP <= 0 {
		return Snapshot{}, ErrIncapacitated
	}

	sess := r.byLocation[locationID]
	created := false
	if sess == nil {
		creatures, err := r.engageCreatures(ctx, locationID, targetCreatureIDs)
		if err != nil {
			return Snapshot{}, err
		}
		sess = newSession(uuid.NewString(), locationID, r.now())
		for _, c := range creatures {
			_ = sess.add(c)
		}
		created = true
	}

	if err := r.users.SetActiveSession(ctx, userID, sess.ID); err != nil {
		return Snapshot{}, fmt.Errorf("recording active session for %s: %w", userID, err)
	}

	player := r.playerCombatant(user)
	if err := sess.join(player); err != nil {
		return Snapshot{}, err
	}
	if created {
		r.sessions[sess.ID] = sess
		r.byLocation[locationID] = sess
	}
	r.byUser[userID] = sess.ID
	if sess.activate(r.now()) {
		r.logger.Info("combat session active",
			zap.String("session", sess.ID),
			zap.String("location", locationID),
			zap.Int("combatants", len(sess.Combatants)))
	}

	snap := sess.snapshot()
	r.notifier.Broadcast(sess, envelope(sess.ID, MsgCombatStarted, CombatStarted{Session: snap, Joining: player.Clone()}))
	return snap, nil
}

func (r *Registry) engageCreatures(ctx context.Context, locationID string, targetIDs []string) ([]*Combatant, error) {
	present, err := r.locations.CreaturesAt(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("listing creatures at %s: %w", locationID, err)
	}
	if len(targetIDs) > 0 {
		byID := make(map[string]world.Creature, len(present))
		for _, c := range present {
			byID[c.ID] = c
		}
		selected := make([]world.Creature, 0, len(targetIDs))
		seen := make(map[string]bool, len(targetIDs))
		for _, id := range targetIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			c, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, id)
			}
			selected = append(selected, c)
		}
		present = selected
	}

	var out []*Combatant
	for _, c := range present {
		tmpl, ok := r.defs.Creature(c.TemplateID)
		if !ok {
			r.logger.Warn("creature has unknown template; skipped",
				zap.String("creature", c.ID), zap.String("template", c.TemplateID))
			continue
		}
		out = append(out, r.creatureCombatant(c, tmpl))
	}
	if len(out) == 0 {
		return nil, ErrNoCreatures
	}
	return out, nil
}

func (r *Registry) playerCombatant(u *character.User) *Combatant {
	cooldowns := maps.Clone(u.Cooldowns)
	if cooldowns == nil {
		cooldowns = make(map[string]int)
	}
	return &Combatant{
		ID:         u.ID,
		Kind:       KindPlayer,
		Name:       u.Name,
		Level:      u.Level,
		MaxHP:      u.MaxHP,
		CurrentHP:  min(u.CurrentHP, u.MaxHP),
		Accuracy:   u.Accuracy,
		Evasion:    u.Evasion,
		CritBonus:  u.CritBonus,
		Initiative: RollInitiative(r.roller, r.initExpr, u.InitiativeBonus),
		Abilities:  slices.Clone(u.Abilities),
		Cooldowns:  cooldowns,
		Status:     StatusAlive,
	}
}

func (r *Registry) creatureCombatant(c world.Creature, t *content.CreatureTemplate) *Combatant {
	expr := DefaultInitiative
	if t.Initiative != "" {
		if e, err := dice.Parse(t.Initiative); err == nil {
			expr = e
		}
	}
	return &Combatant{
		ID:         c.ID,
		Kind:       KindCreature,
		Name:       t.Name,
		TemplateID: t.ID,
		Level:      t.Level,
		MaxHP:      t.MaxHP,
		CurrentHP:  t.MaxHP,
		Accuracy:   t.Accuracy,
		Evasion:    t.Evasion,
		CritBonus:  t.CritBonus,
		Initiative: RollInitiative(r.roller, expr, 0),
		Abilities:  slices.Clone(t.Abilities),
		Cooldowns:  make(map[string]int),
		Status:     StatusAlive,
	}
}

// participant returns the living player combatant of userID in sessionID.
// Caller must hold r.mu.
func (r *Registry) participant(sessionID, userID string) (*Session, *Combatant, error) {
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	if sess.State != StateActive {
		return nil, nil, ErrSessionNotActive
	}
	c := sess.Combatant(userID)
	if c == nil || c.Kind != KindPlayer || !c.IsAlive() {
		return nil, nil, ErrNotParticipant
	}
	return sess, c, nil
}

// QueueAbility records the caller's action for the current round, replacing
// any action they queued earlier in the round.
//
// Postcondition: on error the session's pending actions are unchanged.
func (r *Registry) QueueAbility(_ context.Context, userID, sessionID, abilityID, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, c, err := r.participant(sessionID, userID)
	if err != nil {
		return err
	}
	ability, ok := r.defs.Ability(abilityID)
	if !ok || !slices.Contains(c.Abilities, abilityID) {
		return fmt.Errorf("%w: %s", ErrAbilityNotFound, abilityID)
	}
	if remaining := c.Cooldowns[abilityID]; remaining > 0 {
		return &CooldownError{AbilityID: abilityID, Remaining: remaining}
	}
	if ability.RequiresTarget() {
		if targetID == "" {
			return ErrTargetRequired
		}
		t := sess.Combatant(targetID)
		if t == nil || !t.IsAlive() {
			return fmt.Errorf("%w: %s is not a living combatant", ErrInvalidTarget, targetID)
		}
		if ability.Target == content.TargetEnemy && t.Kind == c.Kind {
			return fmt.Errorf("%w: %s is not an enemy", ErrInvalidTarget, targetID)
		}
		if ability.Target == content.TargetAlly && t.Kind != c.Kind {
			return fmt.Errorf("%w: %s is not an ally", ErrInvalidTarget, targetID)
		}
	} else {
		targetID = ""
	}

	sess.Pending.Queue(Action{CombatantID: userID, AbilityID: abilityID, TargetID: targetID})
	r.notifier.Broadcast(sess, envelope(sess.ID, MsgAbilityQueued, AbilityQueued{
		CombatantID: userID, AbilityID: abilityID, TargetID: targetID,
	}))
	return nil
}

// AttemptFlee rolls the caller's escape. On success the combatant is marked
// fled, written back and released from the session; on failure the flee
// cooldown is applied.
func (r *Registry) AttemptFlee(ctx context.Context, userID, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, c, err := r.participant(sessionID, userID)
	if err != nil {
		return false, err
	}
	if c.FleeCooldown > 0 {
		return false, &CooldownError{Remaining: c.FleeCooldown}
	}

	success := r.src.Float64() < r.cfg.FleeChance
	audience := broadcast.Recipients(sess.PlayerIDs())
	if !success {
		c.FleeCooldown = r.cfg.FleeCooldownRounds
		c.fleeFresh = true
		sess.Log = append(sess.Log, LogEntry{Round: sess.Round, ActorID: c.ID, Text: c.Name + " fails to escape"})
		r.notifier.Broadcast(audience, envelope(sess.ID, MsgFleeResult, FleeResult{
			UserID: userID, Message: "You fail to get away.",
		}))
		return false, nil
	}

	c.Status = StatusFled
	c.Effects = nil
	sess.Pending.Remove(c.ID)
	sess.Log = append(sess.Log, LogEntry{Round: sess.Round, ActorID: c.ID, Text: c.Name + " flees"})
	r.release(ctx, c)
	r.notifier.Broadcast(audience, envelope(sess.ID, MsgFleeResult, FleeResult{
		UserID: userID, Success: true, Message: "You escape from combat.",
	}))
	r.logger.Info("player fled", zap.String("session", sess.ID), zap.String("user", userID))
	return true, nil
}

// release writes a player's combat state back and clears their session
// pointer. Caller must hold r.mu.
func (r *Registry) release(ctx context.Context, c *Combatant) {
	if err := r.users.SaveCombatState(ctx, c.ID, c.CurrentHP, c.Cooldowns); err != nil {
		r.logger.Error("writing back combat state", zap.String("user", c.ID), zap.Error(err))
	}
	if err := r.users.ClearActiveSession(ctx, c.ID); err != nil {
		r.logger.Error("clearing active session", zap.String("user", c.ID), zap.Error(err))
	}
	delete(r.byUser, c.ID)
}

// Disconnect drops a disconnecting player's pending action. The player stays
// in the session and resolves back to it on reconnect.
func (r *Registry) Disconnect(_ context.Context, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sid, ok := r.byUser[userID]; ok {
		if sess := r.sessions[sid]; sess != nil {
			sess.Pending.Remove(userID)
		}
	}
}

// ProcessDue resolves one round for every ACTIVE session whose round has run
// its full duration. A session that fails is left untouched and retried on
// the next call. Creature deaths are reported after the lock is released.
//
// Postcondition: returns the number of sessions whose round was resolved.
func (r *Registry) ProcessDue(ctx context.Context, now time.Time) int {
	ctx, span := tracer.Start(ctx, "combat.process_due")
	defer span.End()

	r.mu.Lock()
	due := make([]*Session, 0, len(r.byLocation))
	for _, s := range r.byLocation {
		if s.due(now, r.cfg.RoundDuration) {
			due = append(due, s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })

	var deaths []world.Creature
	processed := 0
	for _, s := range due {
		died, err := r.processSession(ctx, s, now)
		if err != nil {
			r.logger.Error("round processing failed; will retry",
				zap.String("session", s.ID), zap.Int("round", s.Round), zap.Error(err))
			continue
		}
		deaths = append(deaths, died...)
		processed++
	}
	r.pruneLocked(now)
	observer := r.deaths
	r.mu.Unlock()

	span.SetAttributes(attribute.Int("sessions.due", len(due)), attribute.Int("sessions.processed", processed))
	if observer != nil {
		for _, c := range deaths {
			observer.CreatureDefeated(ctx, c)
		}
	}
	return processed
}

// processSession resolves and commits one round. Caller must hold r.mu.
func (r *Registry) processSession(ctx context.Context, sess *Session, now time.Time) (deaths []world.Creature, err error) {
	var result *RoundResult
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic resolving round: %v", p)
			}
		}()
		result = r.resolver.Resolve(r.src, sess)
	}()
	if err != nil {
		return nil, err
	}

	if err := sess.commit(result, now); err != nil {
		return nil, err
	}
	for _, ev := range result.Events {
		r.notifier.Broadcast(sess, ev)
	}
	if result.EndReason == EndReasonNone {
		return nil, nil
	}
	return r.finish(ctx, sess, result.EndReason, now), nil
}

// finish ends sess, settles rewards and releases every participant.
// Caller must hold r.mu.
func (r *Registry) finish(ctx context.Context, sess *Session, reason EndReason, now time.Time) []world.Creature {
	audience := broadcast.Recipients(sess.PlayerIDs())
	if err := sess.end(reason, now); err != nil {
		return nil
	}
	if r.byLocation[sess.LocationID] == sess {
		delete(r.byLocation, sess.LocationID)
	}

	var victors, defeated []string
	var deaths []world.Creature
	xpPool, goldPool := 0, 0
	for _, c := range sess.Combatants {
		switch {
		case c.IsAlive():
			victors = append(victors, c.ID)
		case c.Status == StatusDefeated:
			defeated = append(defeated, c.ID)
		}
		if c.Kind != KindCreature || c.Status != StatusDefeated {
			continue
		}
		if t, ok := r.defs.Creature(c.TemplateID); ok {
			xpPool += t.XP
			goldPool += t.Gold
		}
		if err := r.locations.RemoveCreature(ctx, c.ID); err != nil && !errors.Is(err, world.ErrCreatureNotFound) {
			r.logger.Error("removing defeated creature", zap.String("creature", c.ID), zap.Error(err))
		}
		deaths = append(deaths, world.Creature{ID: c.ID, TemplateID: c.TemplateID, LocationID: sess.LocationID})
	}

	var winners []*Combatant
	for _, c := range sess.Combatants {
		if c.Kind == KindPlayer && c.IsAlive() {
			winners = append(winners, c)
		}
	}
	xpEach, goldEach := 0, 0
	if reason == EndReasonAllEnemiesDefeated && len(winners) > 0 {
		xpEach, goldEach = xpPool/len(winners), goldPool/len(winners)
	}

	for _, c := range sess.Combatants {
		if c.Kind != KindPlayer || c.Status == StatusFled {
			continue
		}
		if xpEach+goldEach > 0 && c.IsAlive() {
			if err := r.users.AwardRewards(ctx, c.ID, xpEach, goldEach); err != nil {
				r.logger.Error("awarding rewards", zap.String("user", c.ID), zap.Error(err))
			}
		}
		r.release(ctx, c)
	}

	r.notifier.Broadcast(audience, envelope(sess.ID, MsgCombatEnded, CombatEnded{
		Reason:           reason,
		Victors:          victors,
		Defeated:         defeated,
		ExperienceGained: xpEach,
		GoldGained:       goldEach,
	}))
	r.logger.Info("combat session ended",
		zap.String("session", sess.ID),
		zap.String("reason", string(reason)),
		zap.Int("rounds", sess.Round-1),
		zap.Strings("victors", victors))
	return deaths
}

// PruneEnded drops ended sessions older than EndedRetention and returns how
// many were dropped. ProcessDue prunes on every call.
func (r *Registry) PruneEnded(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruneLocked(now)
}

func (r *Registry) pruneLocked(now time.Time) int {
	n := 0
	for id, s := range r.sessions {
		if s.State == StateEnded && now.Sub(s.EndedAt) >= r.cfg.EndedRetention {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the session with id.
func (r *Registry) Snapshot(sessionID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// SessionFor returns the id of the session userID is in.
func (r *Registry) SessionFor(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byUser[userID]
	return id, ok
}

// InSession reports whether userID is attached to a session.
func (r *Registry) InSession(userID string) bool {
	_, ok := r.SessionFor(userID)
	return ok
}

// IsCreatureEngaged reports whether creatureID belongs to a non-ended session.
func (r *Registry) IsCreatureEngaged(creatureID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engagedLocked(creatureID)
}

// RemoveCreatureIfUnengaged deletes creatureID from the world store unless a
// non-ended session holds it. StartCombat engages creatures under the same
// lock, so a creature is never removed out from under a new session.
//
// Postcondition: reports true only when the creature was removed.
func (r *Registry) RemoveCreatureIfUnengaged(ctx context.Context, creatureID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engagedLocked(creatureID) {
		return false, nil
	}
	if err := r.locations.RemoveCreature(ctx, creatureID); err != nil {
		return false, err
	}
	return true, nil
}

// Caller must hold r.mu.
func (r *Registry) engagedLocked(creatureID string) bool {
	for _, s := range r.byLocation {
		if c := s.Combatant(creatureID); c != nil && c.Kind == KindCreature {
			return true
		}
	}
	return false
}

// ActiveSessionCount returns the number of non-ended sessions.
func (r *Registry) ActiveSessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byLocation)
}
