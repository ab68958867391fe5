package trace

import "net/http"

// Middleware starts a trace per request, continuing one from the caller's headers when present.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := FromMap(map[string]string{
			TraceIDKey:   r.Header.Get(TraceIDKey),
			SpanIDKey:    r.Header.Get(SpanIDKey),
			SessionIDKey: r.Header.Get(SessionIDKey),
		})
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}
