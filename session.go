package opvault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"southwinds.dev/opvault/audit"
	"southwinds.dev/opvault/internal/mem"
	"southwinds.dev/opvault/internal/opdata"
	"southwinds.dev/opvault/persist"
)

// Initialize memguard in init function to ensure it's set up before any session operation
func init() {
	// Enable memguard protection
	memguard.CatchInterrupt()
}

// untitledPlaceholder is the title rendered for items whose overview
// carries none.
const untitledPlaceholder = "Untitled"

var _ Service = (*Session)(nil)

// Session is the stateful façade over a decrypted vault container. It
// implements Service and owns every piece of key material the vault
// yields: the master and overview key pairs live in memguard enclaves for
// the unlocked lifetime, per-item key pairs are created and wiped inside a
// single decrypt call, and Lock wipes everything.
//
// A session is either fully locked (no keys, no index) or fully unlocked
// (all populated); no partial state is ever observable. Unlock on an
// already-unlocked session transitions through a full Lock first, so no
// prior key material survives a new attempt.
//
// SECURITY FEATURES:
// - Vault-level key pairs held in memguard enclaves, opened per use
// - Ephemeral item keys wiped immediately after each decrypt
// - Derived password keys wiped as soon as the vault keys are unwrapped
// - Idle timer drives automatic lock; any authorized call postpones it
// - Best-effort memory locking to keep key material out of swap
// - Audit events for unlock, lock, auto-lock and every secret reveal
//
// Concurrency: the internal mutex exists so the asynchronous idle-timer
// lock is safe against in-flight reads. It does NOT serialize overlapping
// Unlock calls; two concurrent unlocks race on which derived keys win, and
// callers must keep at most one unlock in flight per session.
type Session struct {
	mu sync.Mutex

	unlocked  bool
	vaultPath string

	// Vault-level key pairs, each a 64-byte cipher+auth buffer
	masterEnclave   *memguard.Enclave
	overviewEnclave *memguard.Enclave

	// Read-only records and the eager overview index
	items []RawItem
	index map[string]*ItemOverview

	// Idle auto-lock
	idleTimeout time.Duration
	idleTimer   *time.Timer
	timerGen    uint64

	// Memory protection
	memoryProtectionLevel mem.ProtectionLevel

	// Audit logging
	auditLogger audit.Logger

	storeFactory func(path string) (persist.Store, error)
}

// NewSession creates a locked session ready for Unlock.
func NewSession(options Options) (*Session, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	auditLogger := options.Audit
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	factory := options.StoreFactory
	if factory == nil {
		factory = defaultStoreFactory
	}

	s := &Session{
		auditLogger:           auditLogger,
		storeFactory:          factory,
		memoryProtectionLevel: mem.ProtectionNone,
		index:                 nil,
	}

	if options.EnableMemoryLock {
		// Best-effort: enclave protection still applies when the platform
		// refuses to lock pages.
		protectionLevel, err := mem.Lock()
		if err != nil {
			// Warnings must stay off stdout: in serve mode stdout carries
			// the message frames.
			fmt.Fprintf(os.Stderr, "WARNING: Cannot fully protect memory: %v\n", err)
			fmt.Fprintln(os.Stderr, "However, MemGuard will still provide protection for vault keys")
		}
		s.memoryProtectionLevel = protectionLevel
	}

	return s, nil
}

// Unlock opens the vault container at path with the master password.
//
// The sequence is: force-lock whatever state exists, parse the profile,
// derive the password keys (the one expensive step, and the only one that
// honors ctx), unwrap the vault master and overview key pairs, wipe the
// derived keys, load all raw items, and eagerly decrypt every item's
// overview into the index. Per-item overview failures are tolerated and
// substituted with an empty overview so one corrupt or tombstoned record
// cannot abort the whole unlock; any other failure leaves the session
// locked with all partial key material wiped.
//
// A positive idleTimeout arms the auto-lock timer; zero disables it.
func (s *Session) Unlock(ctx context.Context, path, password string, idleTimeout time.Duration) error {
	startTime := time.Now()
	requestID := uuid.New().String()

	// Re-unlocking transitions through a full lock so nothing survives.
	s.Lock()

	store, err := s.storeFactory(path)
	if err != nil {
		s.logAudit(requestID, "VAULT_UNLOCK", err, startTime, map[string]interface{}{})
		return err
	}
	if err = store.Ping(); err != nil {
		s.logAudit(requestID, "VAULT_UNLOCK", err, startTime, map[string]interface{}{})
		return err
	}

	profile, err := readProfile(store)
	if err != nil {
		s.logAudit(requestID, "VAULT_UNLOCK", err, startTime, map[string]interface{}{})
		return err
	}

	salt, err := base64.StdEncoding.DecodeString(profile.Salt)
	if err != nil {
		err = fmt.Errorf("%w: invalid salt encoding", ErrMalformedProfile)
		s.logAudit(requestID, "VAULT_UNLOCK", err, startTime, map[string]interface{}{})
		return err
	}

	derived, err := deriveWithContext(ctx, []byte(password), salt, profile.Iterations)
	memguard.WipeBytes(salt)
	if err != nil {
		s.logAudit(requestID, "VAULT_UNLOCK", err, startTime, map[string]interface{}{})
		return err
	}

	master, err := unwrapVaultKey(profile.MasterKey, derived)
	if err != nil {
		derived.Wipe()
		s.logAudit(requestID, "VAULT_UNLOCK", err, startTime, map[string]interface{}{
			"vault_uuid": profile.UUID,
		})
		return err
	}

	overview, err := unwrapVaultKey(profile.OverviewKey, derived)
	// The derived password keys are consumed the moment both vault pairs
	// are unwrapped; they never persist in the session.
	derived.Wipe()
	if err != nil {
		master.Wipe()
		s.logAudit(requestID, "VAULT_UNLOCK", err, startTime, map[string]interface{}{
			"vault_uuid": profile.UUID,
		})
		return err
	}

	items, err := readItems(store)
	if err != nil {
		master.Wipe()
		overview.Wipe()
		s.logAudit(requestID, "VAULT_UNLOCK", err, startTime, map[string]interface{}{
			"vault_uuid": profile.UUID,
		})
		return err
	}

	// Eager overview decryption. Failures here are the one tolerated
	// partial-failure path: the item stays listed with an empty overview.
	index := make(map[string]*ItemOverview, len(items))
	decryptFailures := 0
	for i := range items {
		ov := &ItemOverview{}
		plaintext, decErr := unwrapItemPayload(items[i].Overview, overview)
		if decErr == nil {
			if jsonErr := json.Unmarshal(plaintext, ov); jsonErr != nil {
				*ov = ItemOverview{}
				decryptFailures++
			}
		} else {
			decryptFailures++
		}
		index[items[i].UUID] = ov
	}

	// Publish the unlocked state in one step under the mutex so no
	// partially built state is ever observable.
	s.mu.Lock()
	s.unlocked = true
	s.vaultPath = path
	s.masterEnclave = memguard.NewEnclave(master.Raw())
	s.overviewEnclave = memguard.NewEnclave(overview.Raw())
	s.items = items
	s.index = index
	s.idleTimeout = idleTimeout
	s.armTimerLocked()
	s.mu.Unlock()

	s.logAudit(requestID, "VAULT_UNLOCK", nil, startTime, map[string]interface{}{
		"vault_uuid":        profile.UUID,
		"item_count":        len(items),
		"overview_failures": decryptFailures,
		"auto_lock":         idleTimeout > 0,
		"memory_protection": s.memoryProtectionLevel.String(),
	})

	return nil
}

// Lock wipes all vault key material, discards the item index and cancels
// any pending idle timer. Idempotent: locking a locked session re-confirms
// the cleared state and nothing else.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked("VAULT_LOCK")
}

// lockLocked does the actual teardown. Caller holds s.mu.
func (s *Session) lockLocked(action string) {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	// Invalidate any timer callback already past its Stop check.
	s.timerGen++

	if !s.unlocked {
		return
	}

	wipeEnclave(s.masterEnclave)
	wipeEnclave(s.overviewEnclave)
	s.masterEnclave = nil
	s.overviewEnclave = nil

	s.items = nil
	s.index = nil
	s.unlocked = false
	vaultPath := s.vaultPath
	s.vaultPath = ""
	s.idleTimeout = 0

	s.logAudit(uuid.New().String(), action, nil, time.Now(), map[string]interface{}{
		"vault_path_set": vaultPath != "",
	})
}

// wipeEnclave destroys the key material inside an enclave
func wipeEnclave(enclave *memguard.Enclave) {
	if enclave == nil {
		return
	}
	buffer, err := enclave.Open()
	if err != nil {
		return
	}
	// Destroy wipes the underlying pages before releasing them.
	buffer.Destroy()
}

// armTimerLocked schedules the idle auto-lock. Caller holds s.mu.
func (s *Session) armTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	if s.idleTimeout <= 0 {
		return
	}

	s.timerGen++
	gen := s.timerGen
	s.idleTimer = time.AfterFunc(s.idleTimeout, func() {
		s.autoLock(gen)
	})
}

// autoLock is the timer callback. The generation check discards a fire
// that raced with an explicit Lock or a fresh Unlock.
func (s *Session) autoLock(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.timerGen {
		return
	}
	s.lockLocked("VAULT_AUTO_LOCK")
}

// touchLocked asserts the unlocked state and postpones auto-lock. Caller
// holds s.mu. Activity of any kind resets the idle timer.
func (s *Session) touchLocked() error {
	if !s.unlocked {
		return ErrLocked
	}
	s.armTimerLocked()
	return nil
}

// IsUnlocked reports whether the session currently holds vault keys.
func (s *Session) IsUnlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlocked
}

// VaultPath returns the path of the currently unlocked vault, or "".
func (s *Session) VaultPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vaultPath
}

// ItemCount returns the number of indexed items, or 0 when locked.
func (s *Session) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// MemoryProtection describes the level of memory locking achieved.
func (s *Session) MemoryProtection() string {
	return s.memoryProtectionLevel.String()
}

// ListAll returns a summary row for every indexed item, sourced entirely
// from the cached overview index. Detail ciphertext is never touched.
func (s *Session) ListAll() ([]ItemSummary, error) {
	startTime := time.Now()
	requestID := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.touchLocked(); err != nil {
		return nil, err
	}

	summaries := make([]ItemSummary, 0, len(s.items))
	for i := range s.items {
		summaries = append(summaries, s.summaryLocked(&s.items[i]))
	}

	s.logAudit(requestID, "VAULT_LIST", nil, startTime, map[string]interface{}{
		"item_count": len(summaries),
	})
	return summaries, nil
}

// FindByURL returns the summaries whose cached overview URL matches the
// query under the domain-matching rule. Trashed items are excluded from
// suggestions.
func (s *Session) FindByURL(url string) ([]ItemSummary, error) {
	startTime := time.Now()
	requestID := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.touchLocked(); err != nil {
		return nil, err
	}

	var matches []ItemSummary
	for i := range s.items {
		item := &s.items[i]
		if item.Trashed {
			continue
		}
		ov := s.index[item.UUID]
		if ov == nil {
			continue
		}
		if matchesOverview(ov, url) {
			matches = append(matches, s.summaryLocked(item))
		}
	}

	s.logAudit(requestID, "VAULT_FIND", nil, startTime, map[string]interface{}{
		"matches": len(matches),
	})
	return matches, nil
}

// matchesOverview checks the primary URL and any alternates
func matchesOverview(ov *ItemOverview, query string) bool {
	if ov.URL != "" && MatchURL(ov.URL, query) {
		return true
	}
	for _, entry := range ov.URLs {
		if entry.URL != "" && MatchURL(entry.URL, query) {
			return true
		}
	}
	return false
}

// summaryLocked builds one query row from the overview index. Caller holds s.mu.
func (s *Session) summaryLocked(item *RawItem) ItemSummary {
	title := untitledPlaceholder
	url, username := "", ""

	if ov := s.index[item.UUID]; ov != nil {
		if ov.Title != "" {
			title = ov.Title
		}
		url = ov.URL
		username = ov.Ainfo
	}

	return ItemSummary{
		UUID:     item.UUID,
		Title:    title,
		Category: item.Category.DisplayName(),
		URL:      url,
		Username: username,
	}
}

// GetCredentials decrypts one item's detail payload and resolves the
// effective username and password.
//
// Resolution starts from the overview's username hint and the detail's
// top-level password, then overrides either with a structured field whose
// designation is "username" or "password" and whose value is non-empty;
// structured fields win over the defaults when both are present. The item
// key pair is wiped immediately after the decrypt, and the detail payload
// is never cached.
func (s *Session) GetCredentials(itemUUID string) (*Credentials, error) {
	startTime := time.Now()
	requestID := uuid.New().String()

	item, overview, detail, err := s.decryptDetail(itemUUID)
	if err != nil {
		s.logAudit(requestID, "VAULT_REVEAL", err, startTime, map[string]interface{}{
			"item_uuid": itemUUID,
		})
		return nil, err
	}

	creds := &Credentials{
		UUID:     item.UUID,
		Title:    overview.Title,
		URL:      overview.URL,
		Username: overview.Ainfo,
		Password: detail.Password,
	}

	for _, field := range detail.Fields {
		if field.Value == "" {
			continue
		}
		switch field.Designation {
		case "username":
			creds.Username = field.Value
		case "password":
			creds.Password = field.Value
		}
	}

	// One-time-password fields live in sections, keyed by a TOTP prefix
	// on the field name or title.
	for _, section := range detail.Sections {
		for _, field := range section.Fields {
			if field.Value != "" && (strings.HasPrefix(field.Name, "TOTP") || strings.HasPrefix(field.Title, "TOTP")) {
				creds.Totp = field.Value
			}
		}
	}

	s.logAudit(requestID, "VAULT_REVEAL", nil, startTime, map[string]interface{}{
		"item_uuid": itemUUID,
	})
	return creds, nil
}

// GetItem decrypts and returns one item's full detail payload. Details are
// computed on demand and never cached; a second call re-derives the item
// key and re-decrypts.
func (s *Session) GetItem(itemUUID string) (*Item, error) {
	startTime := time.Now()
	requestID := uuid.New().String()

	item, overview, detail, err := s.decryptDetail(itemUUID)
	if err != nil {
		s.logAudit(requestID, "VAULT_GET_ITEM", err, startTime, map[string]interface{}{
			"item_uuid": itemUUID,
		})
		return nil, err
	}

	s.logAudit(requestID, "VAULT_GET_ITEM", nil, startTime, map[string]interface{}{
		"item_uuid": itemUUID,
	})

	return &Item{
		UUID:     item.UUID,
		Category: item.Category.DisplayName(),
		Overview: *overview,
		Detail:   *detail,
	}, nil
}

// decryptDetail runs the per-item decrypt path: locate the raw item,
// unwrap its key pair from the vault master keys, open the detail
// envelope, and wipe the ephemeral keys before returning.
func (s *Session) decryptDetail(itemUUID string) (*RawItem, *ItemOverview, *ItemDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.touchLocked(); err != nil {
		return nil, nil, nil, err
	}

	var item *RawItem
	for i := range s.items {
		if s.items[i].UUID == itemUUID {
			item = &s.items[i]
			break
		}
	}
	if item == nil {
		return nil, nil, nil, ErrItemNotFound
	}

	masterBuffer, err := s.masterEnclave.Open()
	if err != nil {
		return nil, nil, nil, ErrAuthFailed
	}
	master, err := opdata.NewKeyPair(masterBuffer.Bytes())
	if err != nil {
		masterBuffer.Destroy()
		return nil, nil, nil, ErrAuthFailed
	}

	itemKeys, err := unwrapItemKey(item.ItemKey, master)
	masterBuffer.Destroy()
	if err != nil {
		return nil, nil, nil, err
	}

	plaintext, err := unwrapItemPayload(item.Detail, itemKeys)
	// Item-level keys are ephemeral: created and wiped within this call.
	itemKeys.Wipe()
	if err != nil {
		return nil, nil, nil, err
	}

	detail := &ItemDetail{}
	parseErr := json.Unmarshal(plaintext, detail)
	memguard.WipeBytes(plaintext)
	if parseErr != nil {
		return nil, nil, nil, ErrAuthFailed
	}

	overview := s.index[itemUUID]
	if overview == nil {
		overview = &ItemOverview{}
	}
	return item, overview, detail, nil
}

// deriveWithContext runs the expensive password derivation off the calling
// goroutine so a host runtime can cancel the wait. An abandoned derivation
// wipes its own result when it eventually completes.
func deriveWithContext(ctx context.Context, password, salt []byte, iterations int) (*opdata.KeyPair, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	type result struct {
		pair *opdata.KeyPair
	}
	done := make(chan result, 1)

	go func() {
		done <- result{pair: opdata.Derive(password, salt, iterations)}
	}()

	select {
	case <-ctx.Done():
		// The derivation cannot be interrupted; wipe its output once it
		// lands so an abandoned result never lingers.
		go func() {
			r := <-done
			r.pair.Wipe()
		}()
		return nil, ctx.Err()
	case r := <-done:
		return r.pair, nil
	}
}

// logAudit emits one event, never failing the calling operation
func (s *Session) logAudit(requestID, action string, err error, startTime time.Time, metadata map[string]interface{}) {
	if s.auditLogger == nil {
		return
	}

	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["request_id"] = requestID
	metadata["duration_ms"] = time.Since(startTime).Milliseconds()
	if err != nil {
		metadata["error"] = err.Error()
	}

	if logErr := s.auditLogger.Log(action, err == nil, metadata); logErr != nil {
		// Stderr only; stdout may be a frame channel.
		fmt.Fprintf(os.Stderr, "WARNING: failed to write audit event: %v\n", logErr)
	}
}
