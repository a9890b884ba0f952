package credstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var _ Store = (*FileStore)(nil)

type fileDocument struct {
	Access  string `yaml:"access,omitempty"`
	Refresh string `yaml:"refresh,omitempty"`
}

func (d *fileDocument) get(key Key) string {
	switch key {
	case AccessKey:
		return d.Access
	case RefreshKey:
		return d.Refresh
	}
	return ""
}

func (d *fileDocument) set(key Key, value string) {
	switch key {
	case AccessKey:
		d.Access = value
	case RefreshKey:
		d.Refresh = value
	}
}

// FileStore keeps credentials in a YAML file readable only by the owner.
// Every write replaces the file through a rename so readers never see a
// partially written document.
type FileStore struct {
	path string
	lock sync.Mutex
}

func NewFile(cfg FileConfig) (*FileStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("[NewFile] credential file path required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, errors.Wrap(err, "[NewFile] MkdirAll")
	}
	return &FileStore{path: cfg.Path}, nil
}

func (f *FileStore) Get(_ context.Context, key Key) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	doc, err := f.read()
	if err != nil {
		return "", err
	}
	return doc.get(key), nil
}

func (f *FileStore) Save(_ context.Context, values map[Key]string) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	for k, v := range values {
		doc.set(k, v)
	}
	return f.write(doc)
}

func (f *FileStore) Delete(_ context.Context, keys ...Key) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	for _, k := range keys {
		doc.set(k, "")
	}
	if doc.Access == "" && doc.Refresh == "" {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "[FileStore.Delete] Remove")
		}
		return nil
	}
	return f.write(doc)
}

func (f *FileStore) Close(context.Context) error {
	return nil
}

func (f *FileStore) read() (*fileDocument, error) {
	doc := &fileDocument{}
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[FileStore.read] ReadFile")
	}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrap(err, "[FileStore.read] yaml.Unmarshal")
	}
	return doc, nil
}

func (f *FileStore) write(doc *fileDocument) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "[FileStore.write] yaml.Marshal")
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".credentials-*")
	if err != nil {
		return errors.Wrap(err, "[FileStore.write] CreateTemp")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[FileStore.write] Write")
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[FileStore.write] Chmod")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "[FileStore.write] Close")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errors.Wrap(err, "[FileStore.write] Rename")
	}
	return nil
}
