package domain

import (
	"errors"
	"time"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type plainHasher struct {
	verifyCalls int
	failVerify  bool
}

func (h *plainHasher) Hash(password string) (string, error) {
	return "plain$" + password, nil
}

func (h *plainHasher) Verify(password string, encoded string) (bool, error) {
	h.verifyCalls++
	if h.failVerify {
		return false, errors.New("hasher unavailable")
	}
	return encoded == "plain$"+password, nil
}

type staticVerifier struct {
	code string
}

func (v staticVerifier) Verify(_ string, code string, _ time.Time) (bool, error) {
	return code == v.code, nil
}

// counterRandom yields a predictable byte stream.
type counterRandom struct {
	next byte
}

func (r *counterRandom) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.next
		r.next++
	}
	return len(p), nil
}

func newTestAccount(t interface{ Fatalf(string, ...any) }) *Account {
	email, err := NewEmail("Jane.Doe@Example.com")
	if err != nil {
		t.Fatalf("email: %v", err)
	}
	a, err := NewAccount("acc-1", "jane", email, PasswordHash("plain$correct-horse"), nil, testNow)
	if err != nil {
		t.Fatalf("new account: %v", err)
	}
	a.MarkPersisted()
	a.PullEvents()
	return a
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}
