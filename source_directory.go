/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"context"
	"fmt"
	iofs "io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/hamba/avro/v2"
	"github.com/spf13/afero"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"golang.org/x/sync/errgroup"
)

const (
	// EmbedPrefix marks a directory which is resolved inside the embedded filesystem of the DirectorySource
	EmbedPrefix   = `embed:`
	schemaFileExt = `.avsc`
)

// DirectorySource loads *.avsc files from the directories mapped to topics
type DirectorySource struct {
	topics   []TopicMapping
	strategy SubjectStrategy
	fs       afero.Fs
	embedded afero.Fs
	workers  int
	logger   log.Logger
}

type DirectorySourceOption func(*DirectorySource)

// WithFs replaces the OS filesystem
func WithFs(fs afero.Fs) DirectorySourceOption {
	return func(s *DirectorySource) {
		s.fs = fs
	}
}

// WithEmbedded sets the filesystem used for directories prefixed with embed:
func WithEmbedded(fsys iofs.FS) DirectorySourceOption {
	return func(s *DirectorySource) {
		s.embedded = afero.FromIOFS{FS: fsys}
	}
}

func WithWorkers(n int) DirectorySourceOption {
	return func(s *DirectorySource) {
		s.workers = n
	}
}

func WithSourceLogger(logger log.Logger) DirectorySourceOption {
	return func(s *DirectorySource) {
		s.logger = logger
	}
}

func NewDirectorySource(topics []TopicMapping, strategy SubjectStrategy, opts ...DirectorySourceOption) *DirectorySource {
	s := &DirectorySource{
		topics:   topics,
		strategy: strategy,
		fs:       afero.NewOsFs(),
		workers:  4,
		logger:   log.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.strategy == nil {
		s.strategy = ParseSubjectStrategy(``)
	}

	if s.workers < 1 {
		s.workers = 1
	}

	s.logger = s.logger.NewLog(log.Prefixed(`DirectorySource`))

	return s
}

func (s *DirectorySource) Name() string {
	return `directories`
}

type schemaFile struct {
	topic TopicMapping
	fs    afero.Fs
	path  string
}

// Candidates lists the schema files of every valid mapping, in mapping order and then by file name,
// and parses them concurrently
func (s *DirectorySource) Candidates(ctx context.Context) ([]Candidate, error) {
	if len(s.topics) == 0 {
		return nil, ErrNoTopics
	}

	var files []schemaFile
	for _, topic := range s.topics {
		found, err := s.list(topic)
		if err != nil {
			s.logger.Warn(err.Error())
			continue
		}
		files = append(files, found...)
	}

	candidates := make([]Candidate, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			candidates[i] = s.load(file)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return candidates, nil
}

func (s *DirectorySource) list(topic TopicMapping) ([]schemaFile, error) {
	topic.Name = strings.TrimSpace(topic.Name)
	topic.Directory = strings.TrimSpace(topic.Directory)
	topic.Kind = strings.TrimSpace(topic.Kind)

	if topic.Name == `` || topic.Directory == `` {
		return nil, errors.New(fmt.Sprintf(`Skipping invalid topic mapping: name=%q, directory=%q`, topic.Name, topic.Directory))
	}

	fs, dir := s.resolve(topic.Directory)
	if fs == nil {
		return nil, errors.New(fmt.Sprintf(`[%s] No embedded filesystem for directory %s`, topic.Name, topic.Directory))
	}

	ok, err := afero.IsDir(fs, dir)
	if err != nil || !ok {
		return nil, errors.New(fmt.Sprintf(`[%s] Schema directory not found: %s`, topic.Name, topic.Directory))
	}

	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.New(fmt.Sprintf(`[%s] Cannot list schema directory %s: %s`, topic.Name, topic.Directory, err))
	}

	var files []schemaFile
	for _, info := range infos {
		if !info.Mode().IsRegular() || !strings.HasSuffix(info.Name(), schemaFileExt) {
			continue
		}

		files = append(files, schemaFile{
			topic: topic,
			fs:    fs,
			path:  joinPath(fs, dir, info.Name()),
		})
	}

	if len(files) == 0 {
		return nil, errors.New(fmt.Sprintf(`[%s] No %s files found in %s`, topic.Name, schemaFileExt, topic.Directory))
	}

	s.logger.Debug(fmt.Sprintf(`[%s] %d schema file/s found in %s`, topic.Name, len(files), topic.Directory))

	return files, nil
}

func (s *DirectorySource) load(file schemaFile) Candidate {
	cand := Candidate{
		Origin: path.Base(filepath.ToSlash(file.path)),
		Topic:  file.topic.Name,
	}

	byt, err := afero.ReadFile(file.fs, file.path)
	if err != nil {
		cand.Err = errors.WithPrevious(err, fmt.Sprintf(`cannot read %s`, file.path))
		return cand
	}

	schema, err := avro.ParseBytesWithCache(byt, ``, &avro.SchemaCache{})
	if err != nil {
		cand.Err = errors.WithPrevious(err, `invalid avro schema`)
		return cand
	}

	cand.Subject = s.strategy.Subject(file.topic.Name, SubjectKind(file.topic.Kind), schema)
	cand.Schema = &Schema{
		Type:   SchemaTypeAvro,
		Schema: string(byt),
	}

	return cand
}

// resolve returns the filesystem and the path inside it for a configured directory
func (s *DirectorySource) resolve(dir string) (afero.Fs, string) {
	if strings.HasPrefix(dir, EmbedPrefix) {
		p := strings.TrimPrefix(strings.TrimPrefix(dir, EmbedPrefix), `/`)
		if p == `` {
			p = `.`
		}
		return s.embedded, path.Clean(p)
	}

	return s.fs, filepath.Clean(dir)
}

func joinPath(fs afero.Fs, dir, name string) string {
	if _, ok := fs.(afero.FromIOFS); ok {
		return path.Join(dir, name)
	}

	return filepath.Join(dir, name)
}
