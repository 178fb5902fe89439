package profile

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dougsko/k5link/pkg/logging"
)

// ErrUnknownProfile is returned when selecting an id that was never registered
var ErrUnknownProfile = errors.New("unknown profile")

// Observer is notified with the active profile, which may be nil
type Observer func(Profile)

// RadioContext holds the registered profiles and the single active selection.
// Construct one at startup and pass it to every consumer.
type RadioContext struct {
	mutex     sync.RWMutex
	profiles  []Profile
	active    Profile
	observers map[int]Observer
	nextID    int
}

// NewRadioContext creates a context with the given profiles registered
func NewRadioContext(profiles ...Profile) *RadioContext {
	rc := &RadioContext{
		observers: make(map[int]Observer),
	}
	for _, p := range profiles {
		rc.Register(p)
	}
	return rc
}

// Register appends a profile unless one with the same id is already present
func (rc *RadioContext) Register(p Profile) {
	if p == nil {
		return
	}
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	for _, existing := range rc.profiles {
		if existing.ID() == p.ID() {
			logging.Warn("profile", "duplicate profile registration ignored", map[string]interface{}{
				"id": p.ID(),
			})
			return
		}
	}
	rc.profiles = append(rc.profiles, p)
	logging.Debugf("profile", "registered profile %s", p.ID())
}

// Profiles returns the registered profiles in registration order
func (rc *RadioContext) Profiles() []Profile {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()
	out := make([]Profile, len(rc.profiles))
	copy(out, rc.profiles)
	return out
}

// Lookup finds a registered profile by id
func (rc *RadioContext) Lookup(id string) (Profile, error) {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()
	for _, p := range rc.profiles {
		if p.ID() == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, id)
}

// Detect returns the first registered profile matching the firmware string,
// or nil
func (rc *RadioContext) Detect(firmware string) Profile {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()
	for _, p := range rc.profiles {
		if p.Matches(firmware) {
			return p
		}
	}
	return nil
}

// DetectOrDefault falls back to the stock profile when nothing matches
func (rc *RadioContext) DetectOrDefault(firmware string) Profile {
	if p := rc.Detect(firmware); p != nil {
		return p
	}
	if p, err := rc.Lookup(StockID); err == nil {
		logging.Info("profile", "no profile matched firmware, using stock", map[string]interface{}{
			"firmware": firmware,
		})
		return p
	}
	return nil
}

// SetActive changes the active profile and notifies observers. nil clears it.
func (rc *RadioContext) SetActive(p Profile) {
	rc.mutex.Lock()
	rc.active = p
	observers := rc.snapshotObservers()
	rc.mutex.Unlock()

	if p != nil {
		logging.Info("profile", "active profile changed", map[string]interface{}{"id": p.ID()})
	} else {
		logging.Info("profile", "active profile cleared")
	}
	for _, obs := range observers {
		obs(p)
	}
}

// SetActiveByID selects a registered profile by id
func (rc *RadioContext) SetActiveByID(id string) (Profile, error) {
	p, err := rc.Lookup(id)
	if err != nil {
		return nil, err
	}
	rc.SetActive(p)
	return p, nil
}

// Active returns the current selection, or nil
func (rc *RadioContext) Active() Profile {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()
	return rc.active
}

// Subscribe calls obs immediately with the current profile and again on every
// change. The returned function removes the observer.
func (rc *RadioContext) Subscribe(obs Observer) func() {
	rc.mutex.Lock()
	id := rc.nextID
	rc.nextID++
	rc.observers[id] = obs
	current := rc.active
	rc.mutex.Unlock()

	obs(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			rc.mutex.Lock()
			delete(rc.observers, id)
			rc.mutex.Unlock()
		})
	}
}

// snapshotObservers copies the observer set in subscription order. Caller
// holds the mutex.
func (rc *RadioContext) snapshotObservers() []Observer {
	out := make([]Observer, 0, len(rc.observers))
	for id := 0; id < rc.nextID; id++ {
		if obs, ok := rc.observers[id]; ok {
			out = append(out, obs)
		}
	}
	return out
}
