package terminal

import (
	"context"

	orderAPI "possync/internal/app/branch/api/http/order"
	"possync/internal/domain/conflict"
	"possync/internal/domain/order"
	"possync/internal/domain/routing"
	"possync/internal/domain/sync"
)

var (
	_ conflict.Pusher = routedPusher{}
	_ orderAPI.Relay  = cloudRelay{}
)

// routedPusher отправляет разрешения конфликтов по текущему маршруту.
type routedPusher struct {
	cloud  *CloudClient
	router *routing.Resolver
}

func (p routedPusher) PushResolution(ctx context.Context, o order.Order, baseVersion int64, idempotencyKey string) (*order.Order, error) {
	route := p.router.Route()
	accepted, err := p.cloud.PushOrder(ctx, route, o, baseVersion, idempotencyKey)
	reportRoute(p.router, route, err)
	return accepted, err
}

// reportRoute учитывает отправку через родителя как проверку его доступности.
func reportRoute(r *routing.Resolver, route routing.Route, err error) {
	if !route.ViaParent {
		return
	}
	if sync.KindOf(err) == sync.KindConnectivity {
		r.Report(err)
		return
	}
	r.Report(nil)
}

// cloudRelay пересылает запросы терминалов филиала напрямую в облако.
type cloudRelay struct {
	cloud *CloudClient
}

func (r cloudRelay) PushOrder(ctx context.Context, o order.Order, baseVersion int64, key string) (*order.Order, error) {
	return r.cloud.PushOrder(ctx, directRoute, o, baseVersion, key)
}

func (r cloudRelay) FetchOrder(ctx context.Context, id string) (*order.Order, error) {
	return r.cloud.FetchOrder(ctx, directRoute, id)
}

var directRoute = routing.Route{Mode: routing.ModeMain}
