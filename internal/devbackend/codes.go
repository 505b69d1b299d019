package devbackend

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	codeRecordVersionV1 = 1
)

var (
	ErrCodeNotFound         = errors.New("verification code not found")
	ErrCodeMismatch         = errors.New("verification code mismatch")
	ErrCodeAttemptsExceeded = errors.New("verification attempts exceeded")
	ErrCodeStoreUnavailable = errors.New("verification code store unavailable")
)

// consumeCodeLua atomically performs GET→validate→DEL/SET on a pending code.
// KEYS[1] = record key
// ARGV[1] = provided hash (32 bytes)
// ARGV[2] = max attempts (int string)
// ARGV[3] = current unix timestamp (int string)
//
// Returns the record bytes on success, or one of the error strings
// "not_found", "expired", "attempts_exceeded", "code_mismatch".
var consumeCodeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local providedHash = ARGV[1]
local maxAttempts = tonumber(ARGV[2])
local nowUnix = tonumber(ARGV[3])

-- version(1) attempts(2 big-endian) expiresAt(8 big-endian) hash(32) ...
local version = string.byte(data, 1)
if version ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local attempts = string.byte(data, 2) * 256 + string.byte(data, 3)

local e0,e1,e2,e3,e4,e5,e6,e7 = string.byte(data, 4, 11)
local expiresAt = e0
for _, b in ipairs({e1,e2,e3,e4,e5,e6,e7}) do
  expiresAt = expiresAt * 256 + b
end

if nowUnix > expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

local storedHash = string.sub(data, 12, 43)

if storedHash ~= providedHash then
  attempts = attempts + 1
  if attempts >= maxAttempts then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  local newData = string.sub(data, 1, 1) .. string.char(math.floor(attempts / 256), attempts % 256) .. string.sub(data, 4)
  local ttlMs = redis.call('PTTL', KEYS[1])
  if ttlMs <= 0 then
    redis.call('DEL', KEYS[1])
    return {err='expired'}
  end
  redis.call('SET', KEYS[1], newData, 'PX', ttlMs)
  return {err='code_mismatch'}
end

redis.call('DEL', KEYS[1])
return data
`)

// PendingRegistration is a sign-up waiting for its verification code.
type PendingRegistration struct {
	Username  string
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
}

// CodeStore keeps one pending registration per email. A new code replaces the
// previous one.
type CodeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewCodeStore(redisClient redis.UniversalClient, prefix string) *CodeStore {
	if prefix == "" {
		prefix = "farmtrak:otp"
	}
	return &CodeStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *CodeStore) key(email string) string {
	return s.prefix + ":" + normalizeEmail(email)
}

// Save stores rec under email for ttl.
func (s *CodeStore) Save(ctx context.Context, email string, rec *PendingRegistration, ttl time.Duration) error {
	encoded, err := encodePendingRegistration(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(email), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeStoreUnavailable, err)
	}
	return nil
}

// Consume checks code against the pending registration of email. A match
// deletes the record; a miss counts an attempt and deletes it at maxAttempts.
func (s *CodeStore) Consume(ctx context.Context, email, code string, maxAttempts int) (*PendingRegistration, error) {
	provided := hashCode(code)

	result, err := consumeCodeLua.Run(ctx, s.redis,
		[]string{s.key(email)},
		string(provided[:]),
		maxAttempts,
		s.now().Unix(),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found", "expired":
			return nil, ErrCodeNotFound
		case "attempts_exceeded":
			return nil, ErrCodeAttemptsExceeded
		case "code_mismatch":
			return nil, ErrCodeMismatch
		default:
			return nil, fmt.Errorf("%w: %v", ErrCodeStoreUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrCodeStoreUnavailable)
	}

	rec, err := decodePendingRegistration([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodeStoreUnavailable, err)
	}

	// Lua string comparison is not constant-time.
	if subtle.ConstantTimeCompare(rec.CodeHash[:], provided[:]) != 1 {
		return nil, ErrCodeMismatch
	}
	return rec, nil
}

func hashCode(code string) [32]byte {
	return sha256.Sum256([]byte(strings.TrimSpace(code)))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// newCode returns a uniformly random decimal code of the given length.
func newCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid code digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func encodePendingRegistration(rec *PendingRegistration) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(codeRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, rec.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(rec.CodeHash[:])

	if len(rec.Username) > 65535 {
		return nil, errors.New("pending registration username too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(rec.Username))); err != nil {
		return nil, err
	}
	buf.WriteString(rec.Username)

	return buf.Bytes(), nil
}

func decodePendingRegistration(data []byte) (*PendingRegistration, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != codeRecordVersionV1 {
		return nil, errors.New("invalid pending registration version")
	}

	rec := &PendingRegistration{}
	if err := binary.Read(reader, binary.BigEndian, &rec.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, rec.CodeHash[:]); err != nil {
		return nil, err
	}

	var nameLen uint16
	if err := binary.Read(reader, binary.BigEndian, &nameLen); err != nil {
		return nil, err
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(reader, name); err != nil {
		return nil, err
	}
	rec.Username = string(name)

	return rec, nil
}
