// Package console is the interactive surface: it reads one user ID per line
// and prints that user's ranked recommendations until "quit" or end of input.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
	"github.com/actuallystonmai/purchase-recommender/internal/service"
)

const quitCommand = "quit"

// ErrInputCancelled is returned when ctx ends while waiting for a line.
var ErrInputCancelled = errors.New("input canceled")

type Recommender interface {
	GetRecommendations(ctx context.Context, userID string) (*domain.RecommendationResult, error)
}

type Console struct {
	reader *bufio.Reader
	out    io.Writer
	rec    Recommender
}

func New(in io.Reader, out io.Writer, rec Recommender) *Console {
	return &Console{reader: bufio.NewReader(in), out: out, rec: rec}
}

// Run serves the prompt loop. Per-user failures are printed and the loop
// keeps going; it returns nil on quit or end of input.
func (c *Console) Run(ctx context.Context) error {
	c.printf("Starting the product recommender...\n")
	c.printf("Enter a user ID (type '%s' to exit):\n", quitCommand)

	for {
		line, err := c.readLine(ctx)
		if errors.Is(err, io.EOF) && line == "" {
			return nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		userID := strings.TrimSpace(line)
		switch {
		case strings.EqualFold(userID, quitCommand):
			c.printf("Exiting.\n")
			return nil
		case userID == "":
			c.printf("Enter a user ID (type '%s' to exit):\n", quitCommand)
			continue
		}

		c.show(ctx, userID)
		if errors.Is(err, io.EOF) {
			return nil
		}
		c.printf("\nEnter the next user ID (type '%s' to exit):\n", quitCommand)
	}
}

func (c *Console) show(ctx context.Context, userID string) {
	result, err := c.rec.GetRecommendations(ctx, userID)
	if err != nil {
		zap.L().Warn("recommendation failed",
			zap.String("component", "console"),
			zap.String("user_id", userID),
			zap.Error(err))
		_, msg := service.CategorizeError(err)
		c.printf("No recommendations for user %s (%s).\n", userID, msg)
		return
	}
	if len(result.Items) == 0 {
		c.printf("No recommendations for user %s.\n", userID)
		return
	}

	c.printf("\nRecommended products for user %s:\n", userID)
	for _, item := range result.Items {
		c.printf("product_id: %s, category: %s, price: %s, season: %s, score: %.2f\n",
			item.Product.ID,
			item.Product.Category,
			strconv.FormatFloat(item.Product.Price, 'f', -1, 64),
			item.Product.Season,
			item.Score.Positive)
	}
}

// readLine returns the next line without its terminator. A final line with no
// trailing newline is returned together with io.EOF.
func (c *Console) readLine(ctx context.Context) (string, error) {
	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		value, err := c.reader.ReadString('\n')
		resultCh <- result{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ErrInputCancelled
	case res := <-resultCh:
		return strings.TrimRight(res.value, "\r\n"), res.err
	}
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}
