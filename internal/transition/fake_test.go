package transition

import (
	"context"
	"sync"

	"github.com/yairfalse/rdswitch/pkg/instance"
)

// fakeInventory is an in-memory Inventory that records every call.
type fakeInventory struct {
	mu sync.Mutex

	instances []instance.Instance
	tags      map[string][]instance.Tag // by ARN
	listErr   error
	tagErrs   map[string]error // by ARN
	cmdErrs   map[string]error // by instance ID

	listCalls int
	tagCalls  []string
	started   []string
	stopped   []string
}

func newFakeInventory(instances ...instance.Instance) *fakeInventory {
	return &fakeInventory{
		instances: instances,
		tags:      make(map[string][]instance.Tag),
		tagErrs:   make(map[string]error),
		cmdErrs:   make(map[string]error),
	}
}

// add registers an instance with its tags; the ARN is derived from the ID.
func (f *fakeInventory) add(id, status string, tags ...instance.Tag) *fakeInventory {
	arn := "arn:aws:rds:us-east-1:123456789012:db:" + id
	f.instances = append(f.instances, instance.Instance{ID: id, ARN: arn, Status: status})
	f.tags[arn] = tags
	return f
}

func (f *fakeInventory) ListInstances(_ context.Context) ([]instance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.instances, nil
}

func (f *fakeInventory) ListTags(_ context.Context, arn string) ([]instance.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagCalls = append(f.tagCalls, arn)
	if err := f.tagErrs[arn]; err != nil {
		return nil, err
	}
	return f.tags[arn], nil
}

func (f *fakeInventory) RequestStart(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return f.cmdErrs[id]
}

func (f *fakeInventory) RequestStop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return f.cmdErrs[id]
}

func arnOf(id string) string {
	return "arn:aws:rds:us-east-1:123456789012:db:" + id
}

func tag(k, v string) instance.Tag {
	return instance.Tag{Key: k, Value: v}
}
