package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/and161185/charforge/internal/api"
	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/model"
	"github.com/and161185/charforge/internal/server/authn"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeAuth struct {
	id     uuid.UUID
	lastIP string
}

func (f *fakeAuth) Register(context.Context, string, string) (string, error) {
	return f.id.String(), nil
}
func (f *fakeAuth) LoginWithIP(_ context.Context, _, password, ip string) (model.Tokens, model.User, error) {
	f.lastIP = ip
	if password != "p" {
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}
	return model.Tokens{AccessToken: "dummy", ExpiresAt: time.Now().Add(time.Minute)}, model.User{ID: f.id}, nil
}

type fakeUsage struct {
	recs    map[uuid.UUID]model.UsageRecord
	resetID uuid.UUID
}

func (f *fakeUsage) GetUsage(_ context.Context, id uuid.UUID) (model.UsageRecord, error) {
	if r, ok := f.recs[id]; ok {
		return r, nil
	}
	return model.DefaultUsage(id), nil
}
func (f *fakeUsage) RecordGeneration(_ context.Context, id uuid.UUID) (model.UsageRecord, error) {
	r := f.recs[id]
	r.UserID = id
	r.FreeTrialUsed = true
	r.GenerationsCount++
	f.recs[id] = r
	return r, nil
}
func (f *fakeUsage) ActivateSubscription(_ context.Context, id uuid.UUID, ref string) (model.UsageRecord, bool, error) {
	r := f.recs[id]
	r.SubscriptionActive = true
	r.LastPaymentReference = ref
	f.recs[id] = r
	return r, true, nil
}
func (f *fakeUsage) ResetUsage(_ context.Context, id uuid.UUID) error {
	f.resetID = id
	delete(f.recs, id)
	return nil
}

type fakePayments struct{ usage *fakeUsage }

func (f *fakePayments) VerifyPayment(ctx context.Context, id uuid.UUID, url string) (model.VerifyOutcome, error) {
	if url == "bad" {
		return model.VerifyOutcome{Reason: "not_approved"}, nil
	}
	rec, _, _ := f.usage.ActivateSubscription(ctx, id, "ref-1")
	return model.VerifyOutcome{Verified: true, Reference: "ref-1", Record: rec}, nil
}

type fakeGallery struct {
	seq     int64
	entries []model.GalleryEntry
}

func (f *fakeGallery) Add(_ context.Context, uid uuid.UUID, e model.GalleryEntry) (model.GalleryEntry, error) {
	f.seq++
	e.ID = uuid.Must(uuid.NewV4())
	e.UserID = uid
	e.Seq = f.seq
	f.entries = append(f.entries, e)
	return e, nil
}
func (f *fakeGallery) List(_ context.Context, _ uuid.UUID, since int64) ([]model.GalleryEntry, error) {
	var out []model.GalleryEntry
	for _, e := range f.entries {
		if e.Seq > since {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeGallery) Delete(_ context.Context, _ uuid.UUID, id uuid.UUID) (model.GalleryEntry, error) {
	for i, e := range f.entries {
		if e.ID == id && !e.Deleted {
			f.seq++
			e.Deleted, e.Seq = true, f.seq
			f.entries[i] = e
			return e, nil
		}
	}
	return model.GalleryEntry{}, errs.ErrNotFound
}

const bufSize = 1 << 20

func startBufGRPC(t *testing.T, srv *Server, signKey []byte) *api.Client {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	log := zaptest.NewLogger(t)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
		AuthUnary(signKey),
	))
	api.RegisterCharforgeServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return api.NewClient(cc)
}

func jwtFor(t *testing.T, sub string, key []byte, ttl time.Duration) string {
	t.Helper()
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl + 5*time.Second)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return s
}

func outAuth(token string, kv ...string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(),
		append([]string{"authorization", "Bearer " + token}, kv...)...)
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if st, ok := status.FromError(err); !ok || st.Code() != code {
		t.Fatalf("want %v, got %v", code, err)
	}
}

func newTestServer(t *testing.T, supportKey string) (*Server, *fakeAuth, *fakeUsage, *fakeGallery) {
	t.Helper()
	a := &fakeAuth{id: uuid.Must(uuid.NewV4())}
	u := &fakeUsage{recs: map[uuid.UUID]model.UsageRecord{}}
	g := &fakeGallery{}
	return New(a, u, &fakePayments{usage: u}, g, supportKey, zaptest.NewLogger(t)), a, u, g
}

func TestServer_E2E_BasicFlow(t *testing.T) {
	t.Parallel()

	signKey := []byte("test-secret")
	srv, a, _, _ := newTestServer(t, "")
	cl := startBufGRPC(t, srv, signKey)
	bg := context.Background()

	r1, err := cl.Register(bg, &api.RegisterRequest{Username: "u", Password: "p"})
	if err != nil || r1.UserID != a.id.String() {
		t.Fatalf("register: %v, resp=%+v", err, r1)
	}

	r2, err := cl.Login(bg, &api.LoginRequest{Username: "u", Password: "p"})
	if err != nil || r2.AccessToken == "" || r2.UserID != a.id.String() {
		t.Fatalf("login: %v, resp=%+v", err, r2)
	}
	if a.lastIP == "" {
		t.Fatalf("peer ip not passed to auth")
	}
	_, err = cl.Login(bg, &api.LoginRequest{Username: "u", Password: "wrong"})
	wantCode(t, err, codes.Unauthenticated)

	ctx := outAuth(jwtFor(t, a.id.String(), signKey, time.Minute))

	u0, err := cl.GetUsage(ctx, &api.GetUsageRequest{})
	if err != nil || u0.Usage.FreeTrialUsed {
		t.Fatalf("get usage: %v %+v", err, u0)
	}
	u1, err := cl.RecordGeneration(ctx, &api.RecordGenerationRequest{})
	if err != nil || !u1.Usage.FreeTrialUsed || u1.Usage.GenerationsCount != 1 {
		t.Fatalf("record: %v %+v", err, u1)
	}

	v, err := cl.VerifyPayment(ctx, &api.VerifyPaymentRequest{PaymentURL: "bad"})
	if err != nil || v.Verified || v.Reason != "not_approved" {
		t.Fatalf("verify bad: %v %+v", err, v)
	}
	v, err = cl.VerifyPayment(ctx, &api.VerifyPaymentRequest{PaymentURL: "https://x/?success=true"})
	if err != nil || !v.Verified || !v.Usage.SubscriptionActive {
		t.Fatalf("verify ok: %v %+v", err, v)
	}

	added, err := cl.AddGalleryEntry(ctx, &api.AddGalleryEntryRequest{Entry: api.GalleryEntry{Name: "Hero", ImageURL: "https://i"}})
	if err != nil || added.Entry.ID == "" || added.Entry.Seq != 1 {
		t.Fatalf("add: %v %+v", err, added)
	}
	del, err := cl.DeleteGalleryEntry(ctx, &api.DeleteGalleryEntryRequest{ID: added.Entry.ID})
	if err != nil || !del.Entry.Deleted {
		t.Fatalf("delete: %v %+v", err, del)
	}
	_, err = cl.DeleteGalleryEntry(ctx, &api.DeleteGalleryEntryRequest{ID: added.Entry.ID})
	wantCode(t, err, codes.NotFound)

	list, err := cl.ListGallery(ctx, &api.ListGalleryRequest{SinceSeq: 1})
	if err != nil || len(list.Entries) != 1 || !list.Entries[0].Deleted {
		t.Fatalf("list: %v %+v", err, list)
	}
}

func TestServer_E2E_RequiresAuth(t *testing.T) {
	t.Parallel()

	signKey := []byte("test-secret")
	srv, _, _, _ := newTestServer(t, "")
	cl := startBufGRPC(t, srv, signKey)
	bg := context.Background()

	_, err := cl.GetUsage(bg, &api.GetUsageRequest{})
	wantCode(t, err, codes.Unauthenticated)
	_, err = cl.VerifyPayment(bg, &api.VerifyPaymentRequest{PaymentURL: "x"})
	wantCode(t, err, codes.Unauthenticated)

	bad := outAuth(jwtFor(t, uuid.Must(uuid.NewV4()).String(), []byte("other"), time.Minute))
	_, err = cl.RecordGeneration(bad, &api.RecordGenerationRequest{})
	wantCode(t, err, codes.Unauthenticated)
}

func TestServer_E2E_ResetUsage(t *testing.T) {
	t.Parallel()

	signKey := []byte("test-secret")
	srv, a, u, _ := newTestServer(t, "support-123")
	cl := startBufGRPC(t, srv, signKey)
	tok := jwtFor(t, a.id.String(), signKey, time.Minute)

	_, err := cl.ResetUsage(outAuth(tok), &api.ResetUsageRequest{})
	wantCode(t, err, codes.PermissionDenied)
	_, err = cl.ResetUsage(outAuth(tok, SupportKeyHeader, "nope"), &api.ResetUsageRequest{})
	wantCode(t, err, codes.PermissionDenied)

	if _, err := cl.ResetUsage(outAuth(tok, SupportKeyHeader, "support-123"), &api.ResetUsageRequest{}); err != nil {
		t.Fatalf("reset self: %v", err)
	}
	if u.resetID != a.id {
		t.Fatalf("reset wrong user: %s", u.resetID)
	}

	other := uuid.Must(uuid.NewV4())
	supportOnly := metadata.AppendToOutgoingContext(context.Background(), SupportKeyHeader, "support-123")
	if _, err := cl.ResetUsage(supportOnly, &api.ResetUsageRequest{UserID: other.String()}); err != nil {
		t.Fatalf("reset other: %v", err)
	}
	if u.resetID != other {
		t.Fatalf("reset wrong user: %s", u.resetID)
	}
	_, err = cl.ResetUsage(supportOnly, &api.ResetUsageRequest{UserID: "bad"})
	wantCode(t, err, codes.InvalidArgument)
}

func TestServer_ResetUsage_DisabledWithoutKey(t *testing.T) {
	t.Parallel()
	srv, a, _, _ := newTestServer(t, "")
	ctx := authn.WithUserID(metadata.NewIncomingContext(context.Background(), metadata.Pairs(SupportKeyHeader, "")), a.id)
	_, err := srv.ResetUsage(ctx, &api.ResetUsageRequest{})
	wantCode(t, err, codes.PermissionDenied)
}

func Test_Register_EmptyFields(t *testing.T) {
	t.Parallel()
	srv, _, _, _ := newTestServer(t, "")
	_, err := srv.Register(context.Background(), &api.RegisterRequest{})
	wantCode(t, err, codes.InvalidArgument)
}

func Test_BadIDs_WithAuth(t *testing.T) {
	t.Parallel()
	srv, a, _, _ := newTestServer(t, "")
	ctx := authn.WithUserID(context.Background(), a.id)

	_, err := srv.DeleteGalleryEntry(ctx, &api.DeleteGalleryEntryRequest{ID: "not-a-uuid"})
	wantCode(t, err, codes.InvalidArgument)
	_, err = srv.AddGalleryEntry(ctx, &api.AddGalleryEntryRequest{Entry: api.GalleryEntry{ID: "bad"}})
	wantCode(t, err, codes.InvalidArgument)
	_, err = srv.VerifyPayment(ctx, &api.VerifyPaymentRequest{})
	wantCode(t, err, codes.InvalidArgument)
}

func Test_remoteIP(t *testing.T) {
	t.Parallel()
	if got := remoteIP(context.Background()); got != "" {
		t.Fatalf("want empty, got %q", got)
	}
	pctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	if got := remoteIP(pctx); got != "127.0.0.1" {
		t.Fatalf("want host without port, got %q", got)
	}
}
