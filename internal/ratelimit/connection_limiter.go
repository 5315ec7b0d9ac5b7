package ratelimit

// Verdict is the outcome of ConnectionLimiter.AllowMessage.
type Verdict int

const (
	Allowed Verdict = iota
	TooManyMessages
	TooManyBytes
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case TooManyMessages:
		return "too_many_messages"
	case TooManyBytes:
		return "too_many_bytes"
	default:
		return "unknown"
	}
}

// ConnectionLimiter bounds the inbound signaling traffic of one connection
// by message count and by payload bytes, each per second. A limit <= 0
// disables that dimension.
type ConnectionLimiter struct {
	messages *TokenBucket
	bytes    *TokenBucket
}

func NewConnectionLimiter(clock Clock, messagesPerSecond, bytesPerSecond int) *ConnectionLimiter {
	l := &ConnectionLimiter{}
	if messagesPerSecond > 0 {
		l.messages = NewTokenBucket(clock, int64(messagesPerSecond), int64(messagesPerSecond))
	}
	if bytesPerSecond > 0 {
		l.bytes = NewTokenBucket(clock, int64(bytesPerSecond), int64(bytesPerSecond))
	}
	return l
}

// AllowMessage accounts for one inbound message of the given size.
func (l *ConnectionLimiter) AllowMessage(size int) Verdict {
	if l == nil {
		return Allowed
	}
	if l.messages != nil && !l.messages.Allow(1) {
		return TooManyMessages
	}
	if l.bytes != nil && !l.bytes.Allow(int64(size)) {
		return TooManyBytes
	}
	return Allowed
}
