package fhe

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
)

// DevEngine is the in-process engine implementation. Values are sealed with
// AES-GCM under a master key derived from a passphrase with argon2id, so
// nothing outside this package ever sees a plaintext. It stands in for the
// real coprocessor in tests and single-node deployments.
type DevEngine struct {
	mu       sync.RWMutex
	key      []byte
	proofKey []byte
	values   map[Handle]sealedValue
	perm     map[grantKey]struct{}
	trans    map[grantKey]string
}

type sealedValue struct {
	nonce      []byte
	ciphertext []byte
	boolean    bool
}

type grantKey struct {
	handle    Handle
	principal Principal
}

// NewDevEngine derives the master key from the passphrase and salt and
// returns an empty engine.
func NewDevEngine(passphrase, salt []byte) *DevEngine {
	key := argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("import-proof"))

	return &DevEngine{
		key:      key,
		proofKey: mac.Sum(nil),
		values:   make(map[Handle]sealedValue),
		perm:     make(map[grantKey]struct{}),
		trans:    make(map[grantKey]string),
	}
}

func (e *DevEngine) seal(value uint64) (nonce, ciphertext []byte, err error) {
	plaintext := make([]byte, 8)
	binary.BigEndian.PutUint64(plaintext, value)

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	return nonce, aesgcm.Seal(nil, nonce, plaintext, nil), nil
}

func (e *DevEngine) open(v sealedValue) (uint64, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return 0, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return 0, err
	}

	plaintext, err := aesgcm.Open(nil, v.nonce, v.ciphertext, nil)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint64(plaintext), nil
}

// store seals value and registers it under a fresh handle. Caller must hold
// the write lock.
func (e *DevEngine) store(value uint64, boolean bool) (Handle, error) {
	nonce, ct, err := e.seal(value)
	if err != nil {
		return NilHandle, err
	}
	h := newHandle()
	e.values[h] = sealedValue{nonce: nonce, ciphertext: ct, boolean: boolean}
	return h, nil
}

// load opens the value behind h. Caller must hold at least the read lock.
func (e *DevEngine) load(h Handle, wantBool bool) (uint64, error) {
	v, ok := e.values[h]
	if !ok {
		return 0, ErrUnknownHandle
	}
	if v.boolean != wantBool {
		return 0, ErrTypeMismatch
	}
	return e.open(v)
}

func (e *DevEngine) Encrypt(ctx context.Context, value uint64, owner Principal) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.store(value, false)
	if err != nil {
		return NilHandle, err
	}
	if owner != Nobody {
		e.perm[grantKey{h, owner}] = struct{}{}
	}
	return h, nil
}

func (e *DevEngine) EncryptBool(ctx context.Context, value bool, owner Principal) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var n uint64
	if value {
		n = 1
	}
	h, err := e.store(n, true)
	if err != nil {
		return NilHandle, err
	}
	if owner != Nobody {
		e.perm[grantKey{h, owner}] = struct{}{}
	}
	return h, nil
}

// SealExternal plays the client-side SDK: it produces an external ciphertext
// and the proof binding it to the submitting principal, suitable for
// ImportWithProof. Tests and operator tooling use it to exercise the
// proof-validated ingestion path.
func (e *DevEngine) SealExternal(value uint64, submitter Principal) (external, proof []byte, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	nonce, ct, err := e.seal(value)
	if err != nil {
		return nil, nil, err
	}

	external = append(nonce, ct...)
	return external, e.proofFor(external, submitter), nil
}

func (e *DevEngine) proofFor(external []byte, submitter Principal) []byte {
	mac := hmac.New(sha256.New, e.proofKey)
	mac.Write(external)
	mac.Write([]byte(submitter))
	return mac.Sum(nil)
}

func (e *DevEngine) ImportWithProof(ctx context.Context, external, proof []byte, submitter Principal) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if subtle.ConstantTimeCompare(proof, e.proofFor(external, submitter)) != 1 {
		return NilHandle, ErrInvalidProof
	}
	if len(external) < 13 {
		return NilHandle, ErrInvalidProof
	}

	// re-seal under a fresh nonce so the imported handle never aliases the
	// external blob
	nonceSize := 12
	value, err := e.open(sealedValue{nonce: external[:nonceSize], ciphertext: external[nonceSize:]})
	if err != nil {
		return NilHandle, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	h, err := e.store(value, false)
	if err != nil {
		return NilHandle, err
	}
	if submitter != Nobody {
		e.perm[grantKey{h, submitter}] = struct{}{}
	}
	return h, nil
}

func (e *DevEngine) CmpGE(ctx context.Context, a, b Handle) (Handle, error) {
	return e.compare(a, b, func(x, y uint64) bool { return x >= y })
}

func (e *DevEngine) CmpLE(ctx context.Context, a, b Handle) (Handle, error) {
	return e.compare(a, b, func(x, y uint64) bool { return x <= y })
}

func (e *DevEngine) CmpLT(ctx context.Context, a, b Handle) (Handle, error) {
	return e.compare(a, b, func(x, y uint64) bool { return x < y })
}

func (e *DevEngine) compare(a, b Handle, cmp func(x, y uint64) bool) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	x, err := e.load(a, false)
	if err != nil {
		return NilHandle, err
	}
	y, err := e.load(b, false)
	if err != nil {
		return NilHandle, err
	}

	var n uint64
	if cmp(x, y) {
		n = 1
	}
	return e.store(n, true)
}

func (e *DevEngine) Add(ctx context.Context, a, b Handle) (Handle, error) {
	return e.arith(a, b, func(x, y uint64) uint64 { return x + y })
}

func (e *DevEngine) Sub(ctx context.Context, a, b Handle) (Handle, error) {
	return e.arith(a, b, func(x, y uint64) uint64 { return x - y })
}

func (e *DevEngine) arith(a, b Handle, op func(x, y uint64) uint64) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	x, err := e.load(a, false)
	if err != nil {
		return NilHandle, err
	}
	y, err := e.load(b, false)
	if err != nil {
		return NilHandle, err
	}

	return e.store(op(x, y), false)
}

func (e *DevEngine) Select(ctx context.Context, cond, ifTrue, ifFalse Handle) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.load(cond, true)
	if err != nil {
		return NilHandle, err
	}
	x, err := e.load(ifTrue, false)
	if err != nil {
		return NilHandle, err
	}
	y, err := e.load(ifFalse, false)
	if err != nil {
		return NilHandle, err
	}

	// constant-time mask combine, same shape the coprocessor evaluates
	mask := uint64(0) - c
	return e.store(x&mask|y&^mask, false)
}

func (e *DevEngine) GrantPermanent(ctx context.Context, h Handle, p Principal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.values[h]; !ok {
		return ErrUnknownHandle
	}
	e.perm[grantKey{h, p}] = struct{}{}
	return nil
}

func (e *DevEngine) GrantTransient(ctx context.Context, h Handle, p Principal) error {
	scope, ok := callScope(ctx)
	if !ok {
		return ErrNoCallScope
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.values[h]; !ok {
		return ErrUnknownHandle
	}
	e.trans[grantKey{h, p}] = scope
	return nil
}

func (e *DevEngine) allowed(ctx context.Context, h Handle, p Principal) bool {
	if _, ok := e.perm[grantKey{h, p}]; ok {
		return true
	}
	scope, ok := callScope(ctx)
	if !ok {
		return false
	}
	return e.trans[grantKey{h, p}] == scope
}

func (e *DevEngine) Decrypt(ctx context.Context, h Handle, p Principal) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.values[h]; !ok {
		return 0, ErrUnknownHandle
	}
	if !e.allowed(ctx, h, p) {
		return 0, ErrAccessDenied
	}
	return e.load(h, false)
}

func (e *DevEngine) DecryptBool(ctx context.Context, h Handle, p Principal) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.values[h]; !ok {
		return false, ErrUnknownHandle
	}
	if !e.allowed(ctx, h, p) {
		return false, ErrAccessDenied
	}
	n, err := e.load(h, true)
	return n == 1, err
}
