package invite

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"chatgateway/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("invitation not found")

// StateError 表示邀请当前状态不允许该操作。
type StateError struct {
	Status models.InvitationStatus
}

func (e *StateError) Error() string { return fmt.Sprintf("invitation is %s", e.Status) }

type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Expired  int `json:"expired"`
}

// Store 以 token 为键保存邀请，并按邀请人维护 token 索引。
type Store struct {
	mu        sync.Mutex
	byToken   map[string]*models.Invitation
	byInviter map[string][]string // lower(inviter) -> tokens
	ttl       time.Duration
	now       func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		byToken:   make(map[string]*models.Invitation),
		byInviter: make(map[string][]string),
		ttl:       ttl,
		now:       time.Now,
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "inv_" + hex.EncodeToString(b), nil
}

// Create 若同一邀请人对同一邮箱已有未过期的待处理邀请则直接返回它。
func (s *Store) Create(inviter, email string) (models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, token := range s.byInviter[strings.ToLower(inviter)] {
		inv := s.byToken[token]
		if strings.EqualFold(inv.InviteeEmail, email) && inv.Status == models.InvitationPending && inv.ExpiresAt.After(now) {
			return *inv, nil
		}
	}
	token, err := newToken()
	if err != nil {
		return models.Invitation{}, err
	}
	inv := &models.Invitation{
		ID:              uuid.NewString(),
		Token:           token,
		InviterUsername: inviter,
		InviteeEmail:    email,
		Status:          models.InvitationPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.ttl),
	}
	s.byToken[token] = inv
	k := strings.ToLower(inviter)
	s.byInviter[k] = append(s.byInviter[k], token)
	log.Info().Str("inviter", inviter).Str("email", email).Msg("invitation created")
	return *inv, nil
}

// expire 把已过期的待处理邀请标记为 expired，调用方持有锁。
func (s *Store) expire(inv *models.Invitation, now time.Time) {
	if inv.Status == models.InvitationPending && !inv.ExpiresAt.After(now) {
		inv.Status = models.InvitationExpired
	}
}

func (s *Store) Lookup(token string) (models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byToken[token]
	if !ok {
		return models.Invitation{}, ErrNotFound
	}
	s.expire(inv, s.now())
	return *inv, nil
}

func (s *Store) Accept(token string) (models.Invitation, error) {
	return s.transition(token, func(inv *models.Invitation, now time.Time) {
		inv.Status = models.InvitationAccepted
		inv.AcceptedAt = &now
	})
}

func (s *Store) Reject(token string) (models.Invitation, error) {
	return s.transition(token, func(inv *models.Invitation, _ time.Time) {
		inv.Status = models.InvitationRejected
	})
}

func (s *Store) transition(token string, apply func(*models.Invitation, time.Time)) (models.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byToken[token]
	if !ok {
		return models.Invitation{}, ErrNotFound
	}
	now := s.now()
	s.expire(inv, now)
	if inv.Status != models.InvitationPending {
		return *inv, &StateError{Status: inv.Status}
	}
	apply(inv, now)
	log.Info().Str("token", token).Str("status", string(inv.Status)).Msg("invitation updated")
	return *inv, nil
}

func (s *Store) ListByInviter(inviter string) []models.Invitation {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	tokens := s.byInviter[strings.ToLower(inviter)]
	out := make([]models.Invitation, 0, len(tokens))
	for _, token := range tokens {
		inv := s.byToken[token]
		s.expire(inv, now)
		out = append(out, *inv)
	}
	return out
}

// PendingForEmail 返回发给该邮箱的有效邀请，最新的在前。
func (s *Store) PendingForEmail(email string) []models.Invitation {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []models.Invitation
	for _, inv := range s.byToken {
		s.expire(inv, now)
		if inv.Status == models.InvitationPending && strings.EqualFold(inv.InviteeEmail, email) {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Store) Delete(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byToken[token]
	if !ok {
		return false
	}
	delete(s.byToken, token)
	k := strings.ToLower(inv.InviterUsername)
	tokens := s.byInviter[k]
	for i, t := range tokens {
		if t == token {
			s.byInviter[k] = append(tokens[:i:i], tokens[i+1:]...)
			break
		}
	}
	return true
}

// CleanupExpired 标记所有已过期的待处理邀请，返回本次标记的数量。
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, inv := range s.byToken {
		if inv.Status == models.InvitationPending && !inv.ExpiresAt.After(now) {
			inv.Status = models.InvitationExpired
			n++
		}
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("expired invitations cleaned up")
	}
	return n
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	st := Stats{Total: len(s.byToken)}
	for _, inv := range s.byToken {
		s.expire(inv, now)
		switch inv.Status {
		case models.InvitationPending:
			st.Pending++
		case models.InvitationAccepted:
			st.Accepted++
		case models.InvitationRejected:
			st.Rejected++
		default:
			st.Expired++
		}
	}
	return st
}

// RunCleanup 周期性清理过期邀请，直到 stop 被关闭。
func (s *Store) RunCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.CleanupExpired()
		}
	}
}

// Link 生成前端可直接打开的邀请链接。
func Link(frontendURL, token string) string {
	return strings.TrimRight(frontendURL, "/") + "/invite/" + token
}

// View 是对外返回的邀请，附带邀请链接。
type View struct {
	models.Invitation
	InvitationLink string `json:"invitationLink"`
}

func NewView(inv models.Invitation, frontendURL string) View {
	return View{Invitation: inv, InvitationLink: Link(frontendURL, inv.Token)}
}
