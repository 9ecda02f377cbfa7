// Package kubernetes provides a latch.Store that keeps settings as the data
// entries of a single ConfigMap or Secret. The store also implements
// latch.Watcher using the Watch API.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
)

// ResourceType specifies the type of Kubernetes resource holding the data.
type ResourceType int

const (
	// ConfigMap stores settings in a ConfigMap's data.
	ConfigMap ResourceType = iota
	// Secret stores settings in a Secret's data.
	Secret
)

// Store keeps each setting as one data entry of a ConfigMap or Secret.
// The resource is created on the first Set. Data keys must consist of
// alphanumerics and the characters - _ . so a prefix such as "setting."
// should be used.
type Store struct {
	client       kubernetes.Interface
	namespace    string
	name         string
	resourceType ResourceType
}

// Option configures a Store.
type Option func(*Store)

// WithResourceType sets the resource type.
// Defaults to ConfigMap.
func WithResourceType(rt ResourceType) Option {
	return func(s *Store) {
		s.resourceType = rt
	}
}

// New creates a Store for the named resource.
func New(client kubernetes.Interface, namespace, name string, opts ...Option) *Store {
	s := &Store{
		client:       client,
		namespace:    namespace,
		name:         name,
		resourceType: ConfigMap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the data entry for key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	data, _, err := s.load(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

// Set writes the data entry for key, creating the resource if needed.
func (s *Store) Set(ctx context.Context, key, value string) error {
	err := s.update(ctx, func(data map[string]string) bool {
		data[key] = value
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes the data entry for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.update(ctx, func(data map[string]string) bool {
		if _, ok := data[key]; !ok {
			return false
		}
		delete(data, key)
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys returns the data keys beginning with prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	data, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch begins watching the resource and returns a channel that emits every
// data key added, changed or removed. The watch is re-established when the
// API server closes it.
func (s *Store) Watch(ctx context.Context) (<-chan string, error) {
	known, watcher, err := s.startWatch(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan string)

	go func() {
		defer close(out)

		for {
			// Reconnect on any watch failure
			known, _ = s.watchLoop(ctx, watcher, known, out) //nolint:errcheck // Retried below
			watcher.Stop()
			if ctx.Err() != nil {
				return
			}

			var current map[string]string
			for {
				current, watcher, err = s.startWatch(ctx)
				if err == nil {
					break
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}

			// Report anything that changed while disconnected
			for _, key := range changedKeys(known, current) {
				select {
				case out <- key:
				case <-ctx.Done():
					return
				}
			}
			known = current
		}
	}()

	return out, nil
}

func (s *Store) startWatch(ctx context.Context) (map[string]string, watch.Interface, error) {
	data, resourceVersion, err := s.load(ctx)
	if err != nil {
		return nil, nil, err
	}

	opts := metav1.ListOptions{
		FieldSelector:   fmt.Sprintf("metadata.name=%s", s.name),
		ResourceVersion: resourceVersion,
		Watch:           true,
	}

	var watcher watch.Interface
	if s.resourceType == ConfigMap {
		watcher, err = s.client.CoreV1().ConfigMaps(s.namespace).Watch(ctx, opts)
	} else {
		watcher, err = s.client.CoreV1().Secrets(s.namespace).Watch(ctx, opts)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start watch: %w", err)
	}
	return data, watcher, nil
}

func (s *Store) watchLoop(ctx context.Context, watcher watch.Interface, known map[string]string, out chan<- string) (map[string]string, error) {
	for {
		select {
		case <-ctx.Done():
			return known, ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return known, errors.New("watch channel closed")
			}

			if event.Type == watch.Error {
				return known, errors.New("watch error")
			}

			name, data, ok := s.extractData(event.Object)
			if !ok || name != s.name {
				continue
			}
			if event.Type == watch.Deleted {
				data = map[string]string{}
			}

			for _, key := range changedKeys(known, data) {
				select {
				case out <- key:
				case <-ctx.Done():
					return known, ctx.Err()
				}
			}
			known = data
		}
	}
}

// load returns the resource's data and resource version. A missing resource
// has empty data.
func (s *Store) load(ctx context.Context) (map[string]string, string, error) {
	var obj any
	var err error
	if s.resourceType == ConfigMap {
		obj, err = s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	} else {
		obj, err = s.client.CoreV1().Secrets(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	}
	if apierrors.IsNotFound(err) {
		return map[string]string{}, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get %s/%s: %w", s.namespace, s.name, err)
	}
	_, data, _ := s.extractData(obj)
	return data, resourceVersion(obj), nil
}

// update applies mutate to the resource's data and writes it back, retrying
// on conflicts. mutate reports whether anything changed.
func (s *Store) update(ctx context.Context, mutate func(map[string]string) bool) error {
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		if s.resourceType == ConfigMap {
			return s.updateConfigMap(ctx, mutate)
		}
		return s.updateSecret(ctx, mutate)
	})
}

func (s *Store) updateConfigMap(ctx context.Context, mutate func(map[string]string) bool) error {
	api := s.client.CoreV1().ConfigMaps(s.namespace)
	cm, err := api.Get(ctx, s.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		data := map[string]string{}
		if !mutate(data) {
			return nil
		}
		_, err = api.Create(ctx, &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: s.name, Namespace: s.namespace},
			Data:       data,
		}, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			return apierrors.NewConflict(corev1.Resource("configmaps"), s.name, err)
		}
		return err
	}
	if err != nil {
		return err
	}

	cm = cm.DeepCopy()
	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	if !mutate(cm.Data) {
		return nil
	}
	_, err = api.Update(ctx, cm, metav1.UpdateOptions{})
	return err
}

func (s *Store) updateSecret(ctx context.Context, mutate func(map[string]string) bool) error {
	api := s.client.CoreV1().Secrets(s.namespace)
	secret, err := api.Get(ctx, s.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		data := map[string]string{}
		if !mutate(data) {
			return nil
		}
		_, err = api.Create(ctx, &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: s.name, Namespace: s.namespace},
			Data:       toBytes(data),
		}, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			return apierrors.NewConflict(corev1.Resource("secrets"), s.name, err)
		}
		return err
	}
	if err != nil {
		return err
	}

	data := toStrings(secret.Data)
	if !mutate(data) {
		return nil
	}
	secret = secret.DeepCopy()
	secret.Data = toBytes(data)
	_, err = api.Update(ctx, secret, metav1.UpdateOptions{})
	return err
}

// extractData returns the name and data of a ConfigMap or Secret of the
// configured type.
func (s *Store) extractData(obj any) (string, map[string]string, bool) {
	if s.resourceType == ConfigMap {
		if cm, ok := obj.(*corev1.ConfigMap); ok {
			data := make(map[string]string, len(cm.Data))
			for k, v := range cm.Data {
				data[k] = v
			}
			return cm.Name, data, true
		}
	} else {
		if secret, ok := obj.(*corev1.Secret); ok {
			return secret.Name, toStrings(secret.Data), true
		}
	}
	return "", map[string]string{}, false
}

func resourceVersion(obj any) string {
	if m, ok := obj.(metav1.Object); ok {
		return m.GetResourceVersion()
	}
	return ""
}

func toStrings(data map[string][]byte) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = string(v)
	}
	return out
}

func toBytes(data map[string]string) map[string][]byte {
	out := make(map[string][]byte, len(data))
	for k, v := range data {
		out[k] = []byte(v)
	}
	return out
}

// changedKeys returns the keys whose value differs between the two
// snapshots, including keys present in only one of them, sorted.
func changedKeys(prev, next map[string]string) []string {
	var keys []string
	for k, v := range next {
		if old, ok := prev[k]; !ok || old != v {
			keys = append(keys, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
