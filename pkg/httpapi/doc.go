/*
Package httpapi implements the hub's HTTP surface on top of net/http:
the publish/subscribe ingress (POST /, /publish, /subscribe), the
operator-only work-trigger endpoints (GET /work/...) guarded by
Authorizer, and the ambient /health, /ready, /live, /metrics endpoints
wired from pkg/metrics.
*/
package httpapi
