package classifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Registry 按需加载并复用各模型的 Handle
type Registry struct {
	table map[Architecture]Spec
	opts  Options

	mu      sync.RWMutex
	handles map[Architecture]Handle
	group   singleflight.Group
}

func NewRegistry(table map[Architecture]Spec, opts Options) *Registry {
	return &Registry{
		table:   table,
		opts:    opts,
		handles: make(map[Architecture]Handle),
	}
}

// Spec 返回模型表项
func (r *Registry) Spec(arch Architecture) (Spec, bool) {
	s, ok := r.table[arch]
	return s, ok
}

// Specs 按枚举顺序返回全部表项
func (r *Registry) Specs() []Spec {
	specs := make([]Spec, 0, len(r.table))
	for _, s := range r.table {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Architecture < specs[j].Architecture })
	return specs
}

// Get 首次调用时加载，同一模型的并发加载只执行一次；失败不缓存
func (r *Registry) Get(ctx context.Context, arch Architecture) (Handle, error) {
	r.mu.RLock()
	h, ok := r.handles[arch]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	spec, ok := r.table[arch]
	if !ok {
		return nil, fmt.Errorf("model %s is not deployed", arch)
	}

	v, err, _ := r.group.Do(arch.String(), func() (any, error) {
		r.mu.RLock()
		h, ok := r.handles[arch]
		r.mu.RUnlock()
		if ok {
			return h, nil
		}
		h, err := Load(ctx, spec, r.opts)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.handles[arch] = h
		r.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Handle), nil
}

// Close 释放全部已加载模型
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for arch, h := range r.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", arch, err))
		}
		delete(r.handles, arch)
	}
	return errors.Join(errs...)
}
