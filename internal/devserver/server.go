// Package devserver es un backend de referencia en memoria para los recursos REST que
// consume el engine (/cart, /guest-cart/{sessionId}, /cart/convert, /auth/*).
//
// No es lógica de producto: existe para tests end to end y para usar cartctl en local.
package devserver

import (
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/cartsync/internal/cart"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Variant es un SKU vendible.
type Variant struct {
	ID     string `yaml:"id" json:"id"`
	Price  int64  `yaml:"price" json:"price"`
	Stock  int    `yaml:"stock" json:"stock"`
	Active bool   `yaml:"active" json:"active"`
}

// UserSeed es un usuario que puede hacer login.
type UserSeed struct {
	ID       string `yaml:"id"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Options configura el backend.
type Options struct {
	Variants []Variant
	Users    []UserSeed
	// Secret firma los JWT HS256. Si está vacío se genera uno aleatorio.
	Secret   []byte
	TokenTTL time.Duration
	Now      func() time.Time
}

type userRecord struct {
	id   string
	hash []byte
}

type cartDoc struct {
	id    string
	items []cart.Item
}

// Server guarda todo el estado detrás de un único mutex: cada request es atómico.
type Server struct {
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time

	mu         sync.Mutex
	variants   map[string]Variant
	users      map[string]userRecord // email -> user
	userCarts  map[string]*cartDoc   // userID -> cart
	guestCarts map[string]*cartDoc   // sessionID -> cart
	revoked    map[string]bool       // jti
	faults     map[string][]Fault
}

// New crea el backend con los seeds dados.
func New(opts Options) (*Server, error) {
	s := &Server{
		secret:     opts.Secret,
		tokenTTL:   opts.TokenTTL,
		now:        opts.Now,
		variants:   map[string]Variant{},
		users:      map[string]userRecord{},
		userCarts:  map[string]*cartDoc{},
		guestCarts: map[string]*cartDoc{},
		revoked:    map[string]bool{},
		faults:     map[string][]Fault{},
	}
	if len(s.secret) == 0 {
		s.secret = []byte(uuid.NewString() + uuid.NewString())
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = time.Hour
	}
	if s.now == nil {
		s.now = time.Now
	}
	for _, v := range opts.Variants {
		s.variants[v.ID] = v
	}
	for _, u := range opts.Users {
		if err := s.AddUser(u); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddUser registra un usuario (password hasheado con bcrypt).
func (s *Server) AddUser(u UserSeed) error {
	if u.ID == "" || u.Email == "" || u.Password == "" {
		return fmt.Errorf("devserver: user seed requires id, email and password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("devserver: hash password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[normalizeEmail(u.Email)] = userRecord{id: u.ID, hash: hash}
	return nil
}

// SetVariant crea o reemplaza un variant (stock, precio, activo).
func (s *Server) SetVariant(v Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
}

// UserCart devuelve una copia del carrito del usuario.
func (s *Server) UserCart(userID string) cart.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotOf(s.userCarts[userID])
}

// GuestCart devuelve una copia del carrito guest.
func (s *Server) GuestCart(sessionID string) cart.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotOf(s.guestCarts[sessionID])
}

func snapshotOf(doc *cartDoc) cart.Snapshot {
	if doc == nil {
		return cart.EmptySnapshot()
	}
	items := append([]cart.Item{}, doc.items...)
	return cart.Snapshot{CartID: doc.id, Items: items, Summary: cart.Totals(items)}
}

func (s *Server) stockOf(variantID string) (int, bool) {
	v, ok := s.variants[variantID]
	if !ok {
		return 0, false
	}
	return v.Stock, true
}

func newCartDoc() *cartDoc {
	return &cartDoc{id: "c_" + uuid.NewString(), items: []cart.Item{}}
}

func newItemID() string {
	return "it_" + uuid.NewString()
}

// DefaultCatalog es el catálogo de ejemplo que usan cmd/devserver y los tests.
func DefaultCatalog() []Variant {
	return []Variant{
		{ID: "tee-black-m", Price: 1990, Stock: 10, Active: true},
		{ID: "tee-black-l", Price: 1990, Stock: 2, Active: true},
		{ID: "hoodie-grey-m", Price: 4990, Stock: 5, Active: true},
		{ID: "cap-red", Price: 1290, Stock: 0, Active: true},
		{ID: "socks-legacy", Price: 490, Stock: 50, Active: false},
	}
}
