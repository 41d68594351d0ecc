package comments

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"tg-news-engine/internal/domain"
)

const maxBodyRunes = 2000

// InteractionRecorder фиксирует событие комментария в журнале взаимодействий.
type InteractionRecorder interface {
	Record(ctx context.Context, e domain.InteractionEvent) (bool, error)
}

// Service принимает комментарии и собирает ветки обсуждений.
type Service struct {
	repo     domain.CommentRepo
	news     domain.NewsRepo
	recorder InteractionRecorder
	log      zerolog.Logger
	now      func() time.Time
}

// NewService создаёт сервис комментариев.
func NewService(repo domain.CommentRepo, news domain.NewsRepo, recorder InteractionRecorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		news:     news,
		recorder: recorder,
		log:      logger.With().Str("component", "comments").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddInput описывает новый комментарий.
type AddInput struct {
	NewsID   int64
	UserID   int64
	ParentID *int64
	Body     string
	DedupKey string
}

// Add сохраняет комментарий в статусе pending. Повтор с тем же ключом возвращает существующий.
func (s *Service) Add(ctx context.Context, in AddInput) (domain.Comment, bool, error) {
	body := strings.TrimSpace(in.Body)
	if in.UserID == 0 || in.NewsID == 0 {
		return domain.Comment{}, false, domain.Validationf("комментарий без пользователя или новости")
	}
	if body == "" {
		return domain.Comment{}, false, domain.Validationf("пустой комментарий")
	}
	if utf8.RuneCountInString(body) > maxBodyRunes {
		return domain.Comment{}, false, domain.Validationf("комментарий длиннее %d символов", maxBodyRunes)
	}
	if _, err := s.news.GetNews(ctx, in.NewsID); err != nil {
		return domain.Comment{}, false, fmt.Errorf("получение новости: %w", err)
	}
	if in.ParentID != nil {
		parent, err := s.repo.GetComment(ctx, *in.ParentID)
		if err != nil {
			return domain.Comment{}, false, fmt.Errorf("получение родительского комментария: %w", err)
		}
		if parent.NewsID != in.NewsID {
			return domain.Comment{}, false, domain.Validationf("родительский комментарий относится к другой новости")
		}
		if parent.Status != domain.StatusApproved && parent.Status != domain.StatusPending {
			return domain.Comment{}, false, domain.Validationf("нельзя ответить на комментарий в статусе %s", parent.Status)
		}
	}

	c, created, err := s.repo.InsertComment(ctx, domain.Comment{
		NewsID:    in.NewsID,
		UserID:    in.UserID,
		ParentID:  in.ParentID,
		Body:      body,
		Status:    domain.StatusPending,
		DedupKey:  strings.TrimSpace(in.DedupKey),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Comment{}, false, fmt.Errorf("сохранение комментария: %w", err)
	}
	if created && s.recorder != nil {
		if _, err := s.recorder.Record(ctx, domain.InteractionEvent{
			UserID:     c.UserID,
			NewsID:     c.NewsID,
			Action:     domain.ActionComment,
			DedupKey:   strconv.FormatInt(c.ID, 10),
			OccurredAt: c.CreatedAt,
		}); err != nil {
			s.log.Warn().Err(err).Int64("comment_id", c.ID).Msg("событие комментария не записано")
		}
	}
	return c, created, nil
}

// Node — узел ветки обсуждения. Placeholder означает скрытый текст неодобренного комментария,
// у которого есть видимые ответы.
type Node struct {
	Comment     domain.Comment `json:"comment"`
	Placeholder bool           `json:"placeholder"`
	Children    []Node         `json:"children,omitempty"`
}

// Thread собирает дерево комментариев новости по индексу родитель → дети.
// Ветки под отклонённым комментарием скрываются целиком.
func (s *Service) Thread(ctx context.Context, newsID int64) ([]Node, error) {
	list, err := s.repo.ListComments(ctx, newsID)
	if err != nil {
		return nil, fmt.Errorf("получение комментариев: %w", err)
	}
	known := make(map[int64]struct{}, len(list))
	for _, c := range list {
		known[c.ID] = struct{}{}
	}
	children := make(map[int64][]domain.Comment)
	var roots []domain.Comment
	for _, c := range list {
		if c.ParentID == nil {
			roots = append(roots, c)
			continue
		}
		if _, ok := known[*c.ParentID]; !ok {
			roots = append(roots, c)
			continue
		}
		children[*c.ParentID] = append(children[*c.ParentID], c)
	}
	return buildNodes(roots, children), nil
}

func buildNodes(level []domain.Comment, children map[int64][]domain.Comment) []Node {
	var out []Node
	for _, c := range level {
		if c.Status == domain.StatusRejected {
			continue
		}
		node := Node{Comment: c, Children: buildNodes(children[c.ID], children)}
		if c.Status != domain.StatusApproved {
			if len(node.Children) == 0 {
				continue
			}
			node.Placeholder = true
			node.Comment.Body = ""
		}
		out = append(out, node)
	}
	return out
}
