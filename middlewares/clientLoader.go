package middlewares

import (
	"context"
	"errors"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/serviceengine_backend/models"
)

var errNoLoaders = errors.New("loaders are not attached to the context")

type clientReader struct {
	store *models.Store
}

func (r *clientReader) getClients(ctx context.Context, ids []string) []*dataloader.Result[*models.User] {
	results, err := r.store.ClientsByIds(ctx, ids)
	if err != nil {
		return handleError[*models.User](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(u *models.User) string { return u.ID })
}

func GetClient(ctx context.Context, id string) (*models.User, error) {
	loaders := For(ctx)
	if loaders == nil {
		return nil, errNoLoaders
	}
	return loaders.clientLoader.Load(ctx, id)()
}

func GetClients(ctx context.Context, ids []string) ([]*models.User, []error) {
	loaders := For(ctx)
	if loaders == nil {
		return nil, []error{errNoLoaders}
	}
	return loaders.clientLoader.LoadMany(ctx, ids)()
}

type serviceReader struct {
	store *models.Store
}

func (r *serviceReader) getServices(ctx context.Context, ids []string) []*dataloader.Result[*models.Service] {
	results, err := r.store.ServicesByIds(ctx, ids)
	if err != nil {
		return handleError[*models.Service](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(s *models.Service) string { return s.ID })
}

func GetServices(ctx context.Context, ids []string) ([]*models.Service, []error) {
	loaders := For(ctx)
	if loaders == nil {
		return nil, []error{errNoLoaders}
	}
	return loaders.serviceLoader.LoadMany(ctx, ids)()
}
