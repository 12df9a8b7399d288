package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

const (
	QuizServiceName                 = "livequiz.v1.QuizService"
	QuizServiceGetSessionMethod     = "/" + QuizServiceName + "/GetSession"
	QuizServiceGetLeaderboardMethod = "/" + QuizServiceName + "/GetLeaderboard"
)

// QuizServiceServer is the read-only inspection service. Requests carry a game code.
type QuizServiceServer interface {
	GetSession(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetLeaderboard(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

var quizServiceDesc = grpc.ServiceDesc{
	ServiceName: QuizServiceName,
	HandlerType: (*QuizServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetSession",
			Handler:    quizServiceGetSessionHandler,
		},
		{
			MethodName: "GetLeaderboard",
			Handler:    quizServiceGetLeaderboardHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "livequiz/v1/quiz.proto",
}

func RegisterQuizServiceServer(s grpc.ServiceRegistrar, srv QuizServiceServer) {
	s.RegisterService(&quizServiceDesc, srv)
}

func quizServiceGetSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QuizServiceServer).GetSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: QuizServiceGetSessionMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(QuizServiceServer).GetSession(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func quizServiceGetLeaderboardHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QuizServiceServer).GetLeaderboard(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: QuizServiceGetLeaderboardMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(QuizServiceServer).GetLeaderboard(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// QuizServiceClient calls a QuizServiceServer over conn.
type QuizServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewQuizServiceClient(cc grpc.ClientConnInterface) *QuizServiceClient {
	return &QuizServiceClient{cc: cc}
}

func (c *QuizServiceClient) GetSession(ctx context.Context, code string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, QuizServiceGetSessionMethod, wrapperspb.String(code), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *QuizServiceClient) GetLeaderboard(ctx context.Context, code string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, QuizServiceGetLeaderboardMethod, wrapperspb.String(code), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) GetSession(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	s, ok := a.reg.Lookup(req.GetValue())
	if !ok {
		return nil, errors.NotFound("game %q not found", req.GetValue())
	}

	snap := s.Snapshot()
	players := make([]any, 0, len(snap.Players))
	for _, p := range snap.Players {
		players = append(players, map[string]any{
			"name":  p.Name,
			"score": p.Score.InexactFloat64(),
		})
	}

	return newStruct(map[string]any{
		"code":       snap.Code,
		"state":      string(snap.State),
		"round":      snap.Round,
		"questions":  snap.Questions,
		"pending":    snap.Pending,
		"players":    players,
		"createdAt":  snap.CreatedAt.UTC().Format(timeFormat),
		"lastActive": snap.LastActive.UTC().Format(timeFormat),
	})
}

func (a *API) GetLeaderboard(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	l, err := a.leaderboard(ctx, req.GetValue())
	if err != nil {
		return nil, err
	}

	entries := make([]any, 0, len(l.Entries))
	for _, e := range l.Entries {
		entries = append(entries, map[string]any{
			"name":  e.Name,
			"score": e.Score.InexactFloat64(),
		})
	}

	return newStruct(map[string]any{
		"code":    l.Code,
		"entries": entries,
	})
}

// leaderboard prefers the live session and falls back to the Redis mirror, which
// outlives the session.
func (a *API) leaderboard(ctx context.Context, code string) (*domain.Leaderboard, error) {
	if s, ok := a.reg.Lookup(code); ok {
		l := s.Leaderboard()
		return &l, nil
	}

	if a.ls == nil {
		return nil, errors.NotFound("game %q not found", code)
	}
	return a.ls.GetLeaderboard(ctx, code)
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return st, nil
}
