package backendfake

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is an account held by the fake backend.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Status       string
	AboutMe      string
	Avatar       string
	DateJoined   time.Time
}

func (u *User) FullName() string {
	if u.FirstName == "" && u.LastName == "" {
		return ""
	}
	return u.FirstName + " " + u.LastName
}

// MinCost keeps the fake fast; it never guards real accounts.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

type refreshRecord struct {
	Token  string
	UserID int64
	Iat    time.Time
}

var errNotFound = errors.New("not found")

type userRepo struct {
	users  map[int64]*User
	emails map[string]int64
	nextID int64
	lock   sync.RWMutex
}

func newUserRepo() *userRepo {
	return &userRepo{
		users:  make(map[int64]*User),
		emails: make(map[string]int64),
		nextID: 1,
	}
}

func (r *userRepo) Insert(u *User) (*User, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.emails[u.Email]; ok {
		return nil, errors.New("email taken")
	}
	u.ID = r.nextID
	r.nextID++
	r.users[u.ID] = u
	r.emails[u.Email] = u.ID
	return u, nil
}

func (r *userRepo) GetByEmail(email string) (*User, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	id, ok := r.emails[email]
	if !ok {
		return nil, errNotFound
	}
	return r.users[id], nil
}

func (r *userRepo) GetByID(id int64) (*User, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, errNotFound
	}
	return u, nil
}

func (r *userRepo) UsernameTaken(username string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	for _, u := range r.users {
		if u.Username == username {
			return true
		}
	}
	return false
}

type refreshRepo struct {
	tokens map[string]*refreshRecord
	lock   sync.RWMutex
}

func newRefreshRepo() *refreshRepo {
	return &refreshRepo{tokens: make(map[string]*refreshRecord)}
}

func (r *refreshRepo) Upsert(rt *refreshRecord) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.tokens[rt.Token] = rt
}

func (r *refreshRepo) Get(token string) (*refreshRecord, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	rt, ok := r.tokens[token]
	if !ok {
		return nil, errNotFound
	}
	return rt, nil
}

func (r *refreshRepo) Delete(token string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.tokens, token)
}
