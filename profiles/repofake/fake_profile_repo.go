package fakeprofilerepo

import (
	"context"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/profiles"
)

var _ profiles.Repo = (*FakeProfileRepo)(nil)

type FakeProfileRepo struct {
	profiles map[string]*profiles.Profile
	lock     sync.RWMutex

	getErr      error
	createErr   error
	getCalls    int
	createCalls int
	nowTime     func() time.Time
}

// Option configures the FakeProfileRepo.
type Option func(*FakeProfileRepo)

// WithNowTime sets the clock used to stamp rows.
func WithNowTime(nowFunc func() time.Time) Option {
	return func(pr *FakeProfileRepo) {
		pr.nowTime = nowFunc
	}
}

func NewFakeProfileRepo(options ...Option) *FakeProfileRepo {
	pr := &FakeProfileRepo{
		profiles: make(map[string]*profiles.Profile),
		nowTime:  time.Now,
	}
	for _, o := range options {
		o(pr)
	}
	return pr
}

// FailGet makes every Get return err until cleared with nil.
func (pr *FakeProfileRepo) FailGet(err error) {
	pr.lock.Lock()
	defer pr.lock.Unlock()
	pr.getErr = err
}

// FailCreate makes every Create return err until cleared with nil.
func (pr *FakeProfileRepo) FailCreate(err error) {
	pr.lock.Lock()
	defer pr.lock.Unlock()
	pr.createErr = err
}

func (pr *FakeProfileRepo) GetCalls() int {
	pr.lock.RLock()
	defer pr.lock.RUnlock()
	return pr.getCalls
}

func (pr *FakeProfileRepo) CreateCalls() int {
	pr.lock.RLock()
	defer pr.lock.RUnlock()
	return pr.createCalls
}

// Count returns the number of stored profiles.
func (pr *FakeProfileRepo) Count() int {
	pr.lock.RLock()
	defer pr.lock.RUnlock()
	return len(pr.profiles)
}

func (pr *FakeProfileRepo) Get(ctx context.Context, id string) (*profiles.Profile, error) {
	pr.lock.Lock()
	defer pr.lock.Unlock()
	pr.getCalls++
	if pr.getErr != nil {
		return nil, pr.getErr
	}
	p, ok := pr.profiles[id]
	if !ok {
		return nil, autherrors.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (pr *FakeProfileRepo) Create(ctx context.Context, p *profiles.Profile) (bool, error) {
	pr.lock.Lock()
	defer pr.lock.Unlock()
	pr.createCalls++
	if pr.createErr != nil {
		return false, pr.createErr
	}
	if _, ok := pr.profiles[p.ID]; ok {
		return false, nil
	}
	c := *p
	now := pr.nowTime()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Language == "" {
		c.Language = profiles.DefaultLanguage
	}
	pr.profiles[p.ID] = &c
	return true, nil
}

func (pr *FakeProfileRepo) Update(ctx context.Context, id string, u profiles.Update) (*profiles.Profile, error) {
	pr.lock.Lock()
	defer pr.lock.Unlock()
	p, ok := pr.profiles[id]
	if !ok {
		return nil, autherrors.ErrNotFound
	}
	p.Name = u.Name()
	p.Language = u.LanguageOrDefault()
	p.Phone = u.Phone
	p.UpdatedAt = pr.nowTime()
	c := *p
	return &c, nil
}
