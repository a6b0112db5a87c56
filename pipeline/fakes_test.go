package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memGeo struct {
	countries []*Country
	states    []*State
	cities    []*City
	failState error
}

func newMemGeo() *memGeo {
	us := &Country{ID: "us", Code: "us", Name: "United States", Slug: "united-states"}
	ca := &State{ID: "ca", CountryID: "us", Code: "CA", Name: "California", Slug: "california",
		Population: 39538223, AvgPremium: 2115.5, Country: us}
	tx := &State{ID: "tx", CountryID: "us", Code: "TX", Name: "Texas", Slug: "texas",
		Population: 29145505, Country: us}
	return &memGeo{
		countries: []*Country{us},
		states:    []*State{ca, tx},
		cities: []*City{
			{ID: "fresno", StateID: "ca", Name: "Fresno", Slug: "fresno", Population: 542107, State: ca},
			{ID: "la", StateID: "ca", Name: "Los Angeles", Slug: "los-angeles", Population: 3898747, State: ca},
			{ID: "austin", StateID: "tx", Name: "Austin", Slug: "austin", Population: 961855, State: tx},
			// Same name in two states.
			{ID: "paris-tx", StateID: "tx", Name: "Paris", Slug: "paris", State: tx},
		},
	}
}

func (g *memGeo) FindState(_ context.Context, key string) (*State, error) {
	if g.failState != nil {
		return nil, g.failState
	}
	for _, s := range g.states {
		if strings.EqualFold(s.Slug, key) || strings.EqualFold(s.Code, key) {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

func (g *memGeo) FindCity(_ context.Context, key, stateID string) (*City, error) {
	for _, c := range g.cities {
		if stateID != "" && c.StateID != stateID {
			continue
		}
		if strings.EqualFold(c.Slug, key) || strings.EqualFold(c.Name, key) {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (g *memGeo) FindCountry(_ context.Context, code string) (*Country, error) {
	for _, c := range g.countries {
		if strings.EqualFold(c.Code, code) {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

type memPages struct {
	mu        sync.Mutex
	bySlug    map[string]*Page
	creates   int
	updates   int
	failSlugs map[string]bool
}

func newMemPages() *memPages {
	return &memPages{bySlug: map[string]*Page{}, failSlugs: map[string]bool{}}
}

func (p *memPages) FindPageBySlug(_ context.Context, slug string) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	page, ok := p.bySlug[slug]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *page
	return &cp, nil
}

func (p *memPages) CreatePage(_ context.Context, page *Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	if p.failSlugs[page.Slug] {
		return errors.New("disk full")
	}
	if _, ok := p.bySlug[page.Slug]; ok {
		return errors.New("unique constraint failed: pages.slug")
	}
	cp := *page
	p.bySlug[page.Slug] = &cp
	return nil
}

func (p *memPages) UpdatePage(_ context.Context, page *Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates++
	if _, ok := p.bySlug[page.Slug]; !ok {
		return ErrNotFound
	}
	cp := *page
	p.bySlug[page.Slug] = &cp
	return nil
}

func (p *memPages) writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates + p.updates
}

type memJobs struct {
	mu            sync.Mutex
	jobs          map[string]*Job
	checkpoints   []Progress
	failProgress  error
	finalizeCalls int
	// gate, when set, blocks UpdateJobProgress until closed.
	gate chan struct{}
}

func newMemJobs(jobs ...*Job) *memJobs {
	m := &memJobs{jobs: map[string]*Job{}}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memJobs) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) MarkJobProcessing(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !j.Status.Startable() {
		return ErrNotStartable
	}
	j.Status = StatusProcessing
	j.StartedAt = &at
	return nil
}

func (m *memJobs) UpdateJobProgress(_ context.Context, id string, p Progress) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failProgress != nil {
		return m.failProgress
	}
	m.checkpoints = append(m.checkpoints, p)
	m.jobs[id].Progress = p
	return nil
}

func (m *memJobs) FinalizeJob(_ context.Context, id string, status Status, p Progress, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeCalls++
	j := m.jobs[id]
	if j.Status != StatusProcessing {
		return errors.New("job is not processing")
	}
	j.Status = status
	j.Progress = p
	j.ErrorMessage = errMsg
	j.CompletedAt = &at
	return nil
}

func (m *memJobs) job(id string) Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

type memInvalidator struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (i *memInvalidator) InvalidatePath(_ context.Context, path string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.paths = append(i.paths, path)
	return i.err
}

func (i *memInvalidator) calls() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.paths...)
}
