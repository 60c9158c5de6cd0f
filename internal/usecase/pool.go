package usecase

import (
	"context"
	"log/slog"
	"sync"

	"tickethunter/internal/domain"
)

// analysisPool classifies a batch of notes with bounded parallelism. A
// single bad note never sinks the task: per-note failures are logged and
// the note still counts as processed. Matches publish a TicketFound event
// the moment classification completes, so delivery follows completion
// order rather than submission order.
type analysisPool struct {
	deps   ServiceDeps
	logger *slog.Logger
	taskID int64
}

type unitResult struct {
	matched bool
}

func newAnalysisPool(deps ServiceDeps, logger *slog.Logger, taskID int64) *analysisPool {
	return &analysisPool{deps: deps, logger: logger, taskID: taskID}
}

// run feeds the batch through at most deps.Workers concurrent classifier
// calls and returns once every handed-out note has finished. The stop
// channel is checked before each note is handed to a worker; notes already
// being classified are allowed to finish so their results are kept.
func (p *analysisPool) run(ctx context.Context, notes []domain.Note, stop <-chan struct{}, onProgress func(processed, matches int)) (processed, matches int) {
	jobs := make(chan domain.Note)
	results := make(chan unitResult)

	var wg sync.WaitGroup
	for i := 0; i < p.deps.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for note := range jobs {
				results <- p.process(ctx, note)
			}
		}()
	}

	go func() {
	feed:
		for _, note := range notes {
			select {
			case <-stop:
				break feed
			case jobs <- note:
			}
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	every := p.deps.ProgressEvery
	for res := range results {
		processed++
		if res.matched {
			matches++
		}
		if onProgress != nil && (processed%every == 0 || processed == len(notes)) {
			onProgress(processed, matches)
		}
	}

	return processed, matches
}

// process handles a single note: dedupe against storage, persist it,
// classify, and on a match persist the ticket and publish the event.
func (p *analysisPool) process(ctx context.Context, note domain.Note) unitResult {
	exists, err := p.deps.Repository.NoteExists(ctx, note.ID)
	if err != nil {
		p.warn("check note exists", note.ID, err)
	}
	if exists {
		p.debug("note already stored, skipping", note.ID)
		return unitResult{}
	}

	if err := p.deps.Repository.SaveNote(ctx, note); err != nil {
		p.warn("save note", note.ID, err)
	}

	verdict, err := p.deps.Classifier.Classify(ctx, note.Description)
	if err != nil {
		p.warn("classify note", note.ID, err)
		return unitResult{}
	}

	if !verdict.IsTicketResale {
		return unitResult{}
	}

	ticket := domain.TicketFromVerdict(note, verdict)
	if err := p.deps.Repository.SaveTicket(ctx, ticket); err != nil {
		p.warn("save ticket", note.ID, err)
	}

	p.deps.Hub.Publish(domain.TicketFoundEvent(ticket))

	if p.logger != nil {
		p.logger.Info("ticket found", "note_id", note.ID, "event", ticket.EventName, "city", ticket.City)
	}
	return unitResult{matched: true}
}

func (p *analysisPool) warn(msg, noteID string, err error) {
	if p.logger != nil {
		p.logger.Warn(msg, "note_id", noteID, "error", err)
	}
}

func (p *analysisPool) debug(msg, noteID string) {
	if p.logger != nil {
		p.logger.Debug(msg, "note_id", noteID)
	}
}
