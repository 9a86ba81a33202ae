package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"shed/buffer"
	"shed/config"
	"shed/search"
	"shed/session"
	"shed/state"
	"shed/style"
	"shed/utils/debug"
	"shed/utils/images"
)

var errArgs = errors.New("malformed command line")

func openDocument(ctx context.Context, env *state.LocalEnv, id string) (*session.Session, error) {
	m, err := env.OpenManager()
	if err != nil {
		return nil, err
	}
	s, err := m.Open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("unable to open document %s: %w", id, err)
	}
	return s, nil
}

func projectDocuments(ctx context.Context, env *state.LocalEnv, projectID string) ([]string, error) {
	if _, err := env.OpenManager(); err != nil {
		return nil, err
	}
	docs, err := env.Store.Documents(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("unable to list documents of project %s: %w", projectID, err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	if len(ids) == 0 {
		env.Log.Warn("Project has no documents", zap.String("project", projectID))
	}
	return ids, nil
}

func manageVersions(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("%w: single document identity expected", errArgs)
	}
	s, err := openDocument(ctx, env, cmd.Args().First())
	if err != nil {
		return err
	}

	if cmd.Bool("add") {
		v, err := s.AddVersion()
		if err != nil {
			return fmt.Errorf("unable to add version: %w", err)
		}
		env.Log.Info("Version added", zap.Int("number", v.Number()), zap.String("id", v.ID()))
	}
	if id := cmd.String("select"); len(id) > 0 {
		if _, err := s.Select(id); err != nil {
			return fmt.Errorf("unable to select version: %w", err)
		}
	}
	if cmd.Bool("unlock") {
		if err := s.Unlock(); err != nil {
			return fmt.Errorf("unable to unlock version: %w", err)
		}
	}
	if reason := cmd.String("lock"); len(reason) > 0 {
		if err := s.Lock(reason); err != nil {
			return fmt.Errorf("unable to lock version: %w", err)
		}
	}
	if cmd.IsSet("comment") {
		if err := s.SetComment(cmd.String("comment")); err != nil {
			return fmt.Errorf("unable to set comment: %w", err)
		}
	}

	cur := s.Current().ID()
	fmt.Fprintf(os.Stdout, "%s (%s)\n", s.Document().Title, s.Document().ID)
	for _, v := range s.Document().Versions() {
		m := v.Meta()
		mark := " "
		if m.ID == cur {
			mark = "*"
		}
		line := fmt.Sprintf("%s %3d  %s  %s", mark, m.Number, m.ID, m.Created.Local().Format("2006-01-02 15:04:05"))
		if m.Locked {
			line += "  locked"
			if len(m.LockReason) > 0 {
				line += ": " + m.LockReason
			}
		}
		if len(m.Comment) > 0 {
			line += "  # " + m.Comment
		}
		fmt.Fprintln(os.Stdout, line)
	}
	return nil
}

func searchOptions(env *state.LocalEnv, cmd *cli.Command) search.Options {
	opts := search.Options{
		Regex:         cmd.Bool("regex"),
		CaseSensitive: env.Cfg.Search.CaseSensitive,
		WholeWord:     env.Cfg.Search.WholeWord,
	}
	if cmd.IsSet("case") {
		opts.CaseSensitive = cmd.Bool("case")
	}
	if cmd.IsSet("word") {
		opts.WholeWord = cmd.Bool("word")
	}
	return opts
}

func find(ctx context.Context, cmd *cli.Command, pattern string) ([]search.DocumentMatches, error) {
	env := state.EnvFromContext(ctx)
	ids, err := projectDocuments(ctx, env, cmd.String("project"))
	if err != nil {
		return nil, err
	}
	found, err := env.Searcher().Search(ctx, env.Manager, ids, pattern, searchOptions(env, cmd))
	if err != nil {
		// partial results are still useful
		env.Log.Warn("Some documents were not searched", zap.Error(err))
		if len(found) == 0 {
			return nil, err
		}
	}
	return found, nil
}

func printMatches(found []search.DocumentMatches) {
	for _, dm := range found {
		fmt.Fprintf(os.Stdout, "%s (%d)\n", dm.Title, len(dm.Matches))
		for _, m := range dm.Matches {
			fmt.Fprintf(os.Stdout, "  %-12s %s\n", m.Range, m.Snippet)
		}
	}
}

func searchDocuments(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("%w: single pattern expected", errArgs)
	}
	found, err := find(ctx, cmd, cmd.Args().First())
	if err != nil {
		return err
	}
	printMatches(found)
	return nil
}

func replaceInDocuments(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("%w: pattern and replacement expected", errArgs)
	}
	found, err := find(ctx, cmd, cmd.Args().Get(0))
	if err != nil {
		return err
	}
	if cmd.Bool("dry-run") {
		printMatches(found)
		return nil
	}

	res, err := env.Searcher().ReplaceSelected(ctx, env.Manager, found, cmd.Args().Get(1))
	env.Log.Info("Replacement finished",
		zap.Int("documents", res.Succeeded),
		zap.Int("replacements", res.Replacements),
		zap.Int("failed", len(res.Failed)))
	for _, f := range res.Failed {
		env.Log.Warn("Document was not changed", zap.String("title", f.Title), zap.Error(f.Err))
	}
	return err
}

func loadStylesheet(path string, log *zap.Logger) (*style.Stylesheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read stylesheet: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if strings.EqualFold(filepath.Ext(path), ".css") {
		return style.ParseCSS(data, name, log)
	}
	sheet, err := style.LoadYAML(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(sheet.Name) == 0 {
		sheet.Name = name
	}
	return sheet, nil
}

func restyleProject(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("%w: project and stylesheet expected", errArgs)
	}
	project := cmd.Args().Get(0)
	sheet, err := loadStylesheet(cmd.Args().Get(1), env.Log)
	if err != nil {
		return err
	}
	env.Rpt.StoreData("stylesheet.css", []byte(style.WriteCSS(sheet).String()))

	ids, err := projectDocuments(ctx, env, project)
	if err != nil {
		return err
	}
	// only open documents are notified
	for _, id := range ids {
		if _, err := env.Manager.Open(ctx, id); err != nil {
			return fmt.Errorf("unable to open document %s: %w", id, err)
		}
	}
	if err := env.Manager.SetStylesheet(ctx, project, sheet); err != nil {
		return fmt.Errorf("unable to restyle project %s: %w", project, err)
	}
	env.Log.Info("Stylesheet applied", zap.String("project", project), zap.Int("documents", len(ids)), zap.Strings("styles", sheet.Names()))
	return nil
}

func reconcileDocuments(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	ids := cmd.Args().Slice()
	if project := cmd.String("project"); len(project) > 0 {
		more, err := projectDocuments(ctx, env, project)
		if err != nil {
			return err
		}
		ids = append(ids, more...)
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: documents or project expected", errArgs)
	}

	var errs error
	for _, id := range ids {
		if err := reconcileDocument(ctx, env, id); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// reconcileDocument activates every version of the document which repairs
// markers, then returns to the version which was current.
func reconcileDocument(ctx context.Context, env *state.LocalEnv, id string) error {
	s, err := openDocument(ctx, env, id)
	if err != nil {
		return err
	}
	current := s.Current().ID()
	for _, v := range s.Document().Versions() {
		if _, err := s.Select(v.ID()); err != nil {
			return fmt.Errorf("document %s: %w", id, err)
		}
		if !v.Reconciled() {
			return fmt.Errorf("document %s version %d: %w", id, v.Number(), session.ErrNotLoaded)
		}
	}
	if _, err := s.Select(current); err != nil {
		return fmt.Errorf("document %s: %w", id, err)
	}
	if err := s.Save(ctx); err != nil {
		return fmt.Errorf("document %s: %w", id, err)
	}
	env.Log.Info("Document reconciled", zap.String("title", s.Document().Title), zap.Int("versions", s.Document().Len()), zap.Int("records", len(s.Records())))
	return nil
}

func inspectDocument(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() < 1 || cmd.Args().Len() > 2 {
		return fmt.Errorf("%w: document and optional destination expected", errArgs)
	}
	s, err := openDocument(ctx, env, cmd.Args().Get(0))
	if err != nil {
		return err
	}
	doc := s.Document()

	tw := debug.NewTreeWriter()
	tw.Fields(0, "document", "id", doc.ID, "project", doc.ProjectID, "title", doc.Title)
	for _, v := range doc.Versions() {
		m := v.Meta()
		tw.Fields(1, "version", "number", m.Number, "id", m.ID, "locked", m.Locked, "reason", m.LockReason, "comment", m.Comment, "current", v == s.Current())
	}
	tw.Line(1, "%s", strings.TrimRight(strings.ReplaceAll(s.Content().Dump(), "\n", "\n  "), " "))
	for _, r := range s.Records() {
		tw.Fields(1, "record", "id", r.AttachmentID, "kind", r.Kind.String(), "position", r.Position, "body", r.Body)
	}
	undo, redo := s.History()
	tw.Fields(1, "history", "undo", undo, "redo", redo)

	name := slug.Make(doc.Title)
	if len(name) == 0 {
		name = config.CleanFileName(doc.ID)
	}
	name += ".txt"
	dest := filepath.Join(cmd.Args().Get(1), name)

	data := []byte(tw.String())
	env.Rpt.StoreData("inspect/"+name, data)
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("unable to write dump: %w", err)
	}
	env.Log.Info("Document dumped", zap.String("file", dest))

	if cmd.Bool("previews") {
		writePreviews(env, s.Content(), strings.TrimSuffix(dest, ".txt"))
	}
	return nil
}

const previewSize = 256

// writePreviews saves PNG preview of every image next to the dump. Broken
// images are reported and skipped.
func writePreviews(env *state.LocalEnv, b *buffer.Buffer, prefix string) {
	for off, a := range b.Attachments() {
		img, ok := a.(buffer.Image)
		if !ok {
			continue
		}
		log := env.Log.With(zap.String("id", img.AttachmentID), zap.Int("offset", off), zap.String("mime", img.MimeType))
		pic, err := images.Preview(img.Data, img.MimeType, previewSize, previewSize)
		if err != nil {
			log.Warn("Unable to render image preview", zap.Error(err))
			continue
		}
		data, err := images.EncodePNG(pic)
		if err != nil {
			log.Warn("Unable to render image preview", zap.Error(err))
			continue
		}
		fname := fmt.Sprintf("%s-%d.png", prefix, off)
		if err := os.WriteFile(fname, data, 0644); err != nil {
			log.Warn("Unable to write image preview", zap.Error(err))
			continue
		}
		log.Debug("Image preview written", zap.String("file", fname), zap.Bool("grayscale", images.IsGrayscale(pic)))
	}
}
