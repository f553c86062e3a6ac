// Package auth řeší přihlášení do konzole: bcrypt hesla, podepsanou session cookie
// a omezení počtu pokusů o přihlášení z jedné IP adresy.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/jola2802/iot-gateway-sub000/internal/model"
	"github.com/jola2802/iot-gateway-sub000/internal/store"
)

const (
	// CookieName je název session cookie.
	CookieName = "gateway_session"
	// DefaultSessionTTL je platnost přihlášení.
	DefaultSessionTTL = 12 * time.Hour
)

var (
	// ErrInvalidCredentials vrací Verify pro neznámého uživatele i špatné heslo.
	ErrInvalidCredentials = errors.New("neplatné přihlašovací údaje")
	// ErrNoSession znamená chybějící, poškozenou nebo prošlou cookie.
	ErrNoSession = errors.New("uživatel není přihlášen")
)

// PasswordStore je část úložiště uživatelů, kterou potřebuje ověřování hesel.
type PasswordStore interface {
	PasswordHash(ctx context.Context, username string) ([]byte, error)
	SetPasswordHash(ctx context.Context, username string, hash []byte) error
	EnsureUser(ctx context.Context, username string, hash []byte) error
}

// HashPassword vrací bcrypt hash hesla.
func HashPassword(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("nelze zahashovat heslo: %w", err)
	}
	return hash, nil
}

// Verify ověří heslo uživatele.
func Verify(ctx context.Context, users PasswordStore, username, password string) error {
	hash, err := users.PasswordHash(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// ChangePassword ověří současné heslo a uloží nové. Špatné současné heslo je model.ErrInvalid.
func ChangePassword(ctx context.Context, users PasswordStore, username string, c model.PasswordChange) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := Verify(ctx, users, username, c.CurrentPassword); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return fmt.Errorf("%w: současné heslo nesouhlasí", model.ErrInvalid)
		}
		return err
	}
	hash, err := HashPassword(c.NewPassword)
	if err != nil {
		return err
	}
	return users.SetPasswordHash(ctx, username, hash)
}

// EnsureUser založí účet konzole s výchozím heslem, pokud ještě neexistuje.
func EnsureUser(ctx context.Context, users PasswordStore, username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := users.EnsureUser(ctx, username, hash); err != nil {
		return fmt.Errorf("nelze založit uživatele %q: %w", username, err)
	}
	return nil
}

// Session je obsah session cookie.
type Session struct {
	Username string    `json:"u"`
	IssuedAt time.Time `json:"t"`
}

// Sessions vydává a čte podepsané a šifrované cookies.
type Sessions struct {
	codec  *securecookie.SecureCookie
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewSessions vytvoří správce session. Prázdný hashKey znamená náhodný klíč,
// takže se po restartu všichni musí přihlásit znovu.
func NewSessions(hashKey, blockKey []byte, ttl time.Duration, secure bool) *Sessions {
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(64)
	}
	if len(blockKey) == 0 {
		blockKey = securecookie.GenerateRandomKey(32)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(int(ttl.Seconds()))
	codec.SetSerializer(securecookie.JSONEncoder{})
	return &Sessions{codec: codec, ttl: ttl, secure: secure, now: time.Now}
}

// Issue nastaví session cookie pro uživatele.
func (s *Sessions) Issue(w http.ResponseWriter, username string) error {
	value, err := s.codec.Encode(CookieName, Session{Username: username, IssuedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("nelze zakódovat session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Read vrátí session z požadavku.
func (s *Sessions) Read(r *http.Request) (Session, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return Session{}, ErrNoSession
	}
	var sess Session
	if err := s.codec.Decode(CookieName, c.Value, &sess); err != nil {
		return Session{}, ErrNoSession
	}
	if sess.Username == "" || s.now().Sub(sess.IssuedAt) > s.ttl {
		return Session{}, ErrNoSession
	}
	return sess, nil
}

// Clear smaže session cookie.
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

type userKey struct{}

// WithUser uloží jméno přihlášeného uživatele do kontextu.
func WithUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userKey{}, username)
}

// UserFrom vrací jméno přihlášeného uživatele.
func UserFrom(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(userKey{}).(string)
	return u, ok && u != ""
}

// Require propustí jen požadavky s platnou session, ostatní dostanou 401.
func (s *Sessions) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.Read(r)
		if err != nil {
			http.Error(w, "Nepřihlášen", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), sess.Username)))
	})
}

// Limiter omezuje pokusy o přihlášení podle klíče (IP adresy).
type Limiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter povolí burst pokusů a pak jeden pokus za every.
func NewLimiter(every time.Duration, burst int) *Limiter {
	return &Limiter{
		limit:    rate.Every(every),
		burst:    burst,
		idle:     30 * time.Minute,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Allow spotřebuje jeden pokus. Vrací false, pokud klíč vyčerpal limit.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.visitors, k)
		}
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Reset zapomene klíč po úspěšném přihlášení.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.visitors, key)
}

// ClientIP vrací IP adresu klienta z RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
