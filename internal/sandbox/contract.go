package sandbox

import (
	"context"

	"github.com/yomuko/yomuko/internal/extension"
)

// contractCalls whitelists the invocable contract methods and the argument
// expressions their wrappers pass from the per-call args table. Anything not
// listed here cannot be invoked on a guest script.
var contractCalls = map[string]string{
	"search":             "args.query, args.page",
	"getDetail":          "args.id",
	"getPlayableSources": "args.id",
	"getLatest":          "args.page",
	"getPopular":         "args.page",
}

// Search invokes the required search method.
func (i *Instance) Search(ctx context.Context, query string, page int) (*extension.SearchPage, error) {
	data, err := i.call(ctx, "search", map[string]interface{}{
		"query": query,
		"page":  page,
	})
	if err != nil {
		return nil, err
	}
	return decodePage(data)
}

// GetDetail invokes the required getDetail method.
func (i *Instance) GetDetail(ctx context.Context, contentID string) (*extension.Detail, error) {
	data, err := i.call(ctx, "getDetail", map[string]interface{}{"id": contentID})
	if err != nil {
		return nil, err
	}
	detail, err := extension.DecodeDetail(data)
	if err != nil {
		return nil, extension.NewFailure(err.Error())
	}
	return detail, nil
}

// GetPlayableSources invokes the required getPlayableSources method.
func (i *Instance) GetPlayableSources(ctx context.Context, contentID string) (*extension.SourceBundle, error) {
	data, err := i.call(ctx, "getPlayableSources", map[string]interface{}{"id": contentID})
	if err != nil {
		return nil, err
	}
	bundle, err := extension.DecodeSourceBundle(data)
	if err != nil {
		return nil, extension.NewFailure(err.Error())
	}
	return bundle, nil
}

// GetLatest invokes the optional getLatest method. Scripts that do not
// declare it yield the empty page without entering guest code.
func (i *Instance) GetLatest(ctx context.Context, page int) (*extension.SearchPage, error) {
	if !i.Has("getLatest") {
		return extension.EmptyPage(), nil
	}
	data, err := i.call(ctx, "getLatest", map[string]interface{}{"page": page})
	if err != nil {
		return nil, err
	}
	return decodePage(data)
}

// GetPopular invokes the optional getPopular method, with the same
// capability-absence short-circuit as GetLatest.
func (i *Instance) GetPopular(ctx context.Context, page int) (*extension.SearchPage, error) {
	if !i.Has("getPopular") {
		return extension.EmptyPage(), nil
	}
	data, err := i.call(ctx, "getPopular", map[string]interface{}{"page": page})
	if err != nil {
		return nil, err
	}
	return decodePage(data)
}

func decodePage(data []byte) (*extension.SearchPage, error) {
	page, err := extension.DecodeSearchPage(data)
	if err != nil {
		return nil, extension.NewFailure(err.Error())
	}
	return page, nil
}
