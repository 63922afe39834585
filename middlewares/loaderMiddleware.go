package middlewares

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/serviceengine_backend/models"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders batch the lookups list renderers make per row
type Loaders struct {
	clientLoader  *dataloader.Loader[string, *models.User]
	serviceLoader *dataloader.Loader[string, *models.Service]
}

func NewLoaders(store *models.Store) *Loaders {
	clientReader := &clientReader{store: store}
	serviceReader := &serviceReader{store: store}

	return &Loaders{
		clientLoader:  dataloader.NewBatchedLoader(clientReader.getClients, dataloader.WithWait[string, *models.User](time.Millisecond)),
		serviceLoader: dataloader.NewBatchedLoader(serviceReader.getServices, dataloader.WithWait[string, *models.Service](time.Millisecond)),
	}
}

func LoaderMiddleware(store *models.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(store)
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// For returns the request's loaders, or nil outside LoaderMiddleware.
func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(loadersKey).(*Loaders)
	return loaders
}

// WithLoaders attaches loaders to ctx for code running outside a gin request.
func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// turns rows from db into dataloader results in the order of ids.
// ids without a row resolve to nil.
func generateLoaderResults[T any](results []*T, ids []string, idOf func(*T) string) []*dataloader.Result[*T] {
	resultMap := make(map[string]*T, len(results))
	for _, result := range results {
		resultMap[idOf(result)] = result
	}

	loaderResults := make([]*dataloader.Result[*T], 0, len(ids))
	for _, id := range ids {
		loaderResults = append(loaderResults, &dataloader.Result[*T]{Data: resultMap[id]})
	}
	return loaderResults
}
