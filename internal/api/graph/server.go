package graph

import (
	"context"
	"net/http"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/lvdashuaibi/chainvote/internal/model"
	"github.com/lvdashuaibi/chainvote/internal/service"
)

// GraphQLServer 只读查询端点
// 写路径(创建投票/申请令牌)只走REST，投票本身由投票者直接提交账本
type GraphQLServer struct {
	schema   *graphql.Schema
	handler  *relay.Handler
	resolver *Resolver
}

// 读取GraphQL Schema定义
const schemaString = `
type Poll {
  id: Int!
  title: String!
  description: String!
  startTime: String!
  endTime: String!
  status: String!
  isRestricted: Boolean!
  allowLiveResults: Boolean!
  blockchainPollId: Int
  options: [PollOption!]!
}

type PollOption {
  id: Int!
  label: String!
}

type PollResults {
  pollId: Int!
  counts: [Int!]!
  final: Boolean!
}

type Query {
  # 查询全部投票
  polls: [Poll!]!

  # 查询单个投票(含选项)
  poll(id: Int!): Poll!

  # 查询链上计票
  results(pollId: Int!): PollResults!
}

schema {
  query: Query
}
`

// NewGraphQLServer 创建新的GraphQL服务器
func NewGraphQLServer(pollService *service.PollService) *GraphQLServer {
	resolver := NewResolver(pollService)

	schema := graphql.MustParseSchema(schemaString, resolver,
		graphql.UseFieldResolvers(),
	)

	handler := &relay.Handler{Schema: schema}

	return &GraphQLServer{
		schema:   schema,
		handler:  handler,
		resolver: resolver,
	}
}

// Handler GraphQL API处理器
func (s *GraphQLServer) Handler() http.Handler {
	return s.handler
}

// Playground GraphQL Playground页面处理器
func (s *GraphQLServer) Playground() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(playgroundHTML))
	})
}

// Resolver GraphQL解析器
type Resolver struct {
	pollService *service.PollService
}

// NewResolver 创建新的解析器
func NewResolver(pollService *service.PollService) *Resolver {
	return &Resolver{pollService: pollService}
}

// Polls 查询全部投票
func (r *Resolver) Polls(ctx context.Context) ([]*PollResolver, error) {
	polls, err := r.pollService.ListPolls()
	if err != nil {
		return nil, err
	}

	resolvers := make([]*PollResolver, len(polls))
	for i, poll := range polls {
		resolvers[i] = &PollResolver{poll: poll, pollService: r.pollService}
	}

	return resolvers, nil
}

// Poll 查询单个投票
func (r *Resolver) Poll(ctx context.Context, args struct{ ID int32 }) (*PollResolver, error) {
	detail, err := r.pollService.GetPollDetail(int64(args.ID))
	if err != nil {
		return nil, err
	}

	poll := detail.Poll
	return &PollResolver{poll: &poll, options: detail.Options, pollService: r.pollService}, nil
}

// Results 查询链上计票
func (r *Resolver) Results(ctx context.Context, args struct{ PollID int32 }) (*ResultsResolver, error) {
	results, err := r.pollService.GetResults(ctx, int64(args.PollID))
	if err != nil {
		return nil, err
	}

	return &ResultsResolver{results: results}, nil
}

// PollResolver 投票解析器
type PollResolver struct {
	poll        *model.Poll
	options     []model.PollOption
	pollService *service.PollService
}

func (r *PollResolver) ID() int32 {
	return int32(r.poll.ID)
}

func (r *PollResolver) Title() string {
	return r.poll.Title
}

func (r *PollResolver) Description() string {
	return r.poll.Description
}

func (r *PollResolver) StartTime() string {
	return r.poll.StartTime.Format(time.RFC3339)
}

func (r *PollResolver) EndTime() string {
	return r.poll.EndTime.Format(time.RFC3339)
}

func (r *PollResolver) Status() string {
	return r.poll.Status
}

func (r *PollResolver) IsRestricted() bool {
	return r.poll.IsRestricted
}

func (r *PollResolver) AllowLiveResults() bool {
	return r.poll.AllowLiveResults
}

func (r *PollResolver) BlockchainPollID() *int32 {
	if r.poll.BlockchainPollID == nil {
		return nil
	}
	id := int32(*r.poll.BlockchainPollID)
	return &id
}

// Options 选项按需加载，列表查询时不会为每个投票预先查询选项
func (r *PollResolver) Options() ([]*OptionResolver, error) {
	options := r.options
	if options == nil {
		detail, err := r.pollService.GetPollDetail(r.poll.ID)
		if err != nil {
			return nil, err
		}
		options = detail.Options
	}

	resolvers := make([]*OptionResolver, len(options))
	for i := range options {
		resolvers[i] = &OptionResolver{option: options[i]}
	}

	return resolvers, nil
}

// OptionResolver 选项解析器
type OptionResolver struct {
	option model.PollOption
}

func (r *OptionResolver) ID() int32 {
	return int32(r.option.ID)
}

func (r *OptionResolver) Label() string {
	return r.option.Label
}

// ResultsResolver 计票解析器
type ResultsResolver struct {
	results *model.PollResults
}

func (r *ResultsResolver) PollID() int32 {
	return int32(r.results.PollID)
}

func (r *ResultsResolver) Counts() []int32 {
	counts := make([]int32, len(r.results.Counts))
	for i, v := range r.results.Counts {
		counts[i] = int32(v)
	}
	return counts
}

func (r *ResultsResolver) Final() bool {
	return r.results.Final
}

// playgroundHTML GraphQL Playground HTML
const playgroundHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <meta name="viewport" content="user-scalable=no, initial-scale=1.0, minimum-scale=1.0, maximum-scale=1.0, minimal-ui">
  <title>Chain Vote GraphQL Playground</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <link rel="shortcut icon" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/favicon.png" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root">
    <style>
      body {
        background-color: rgb(23, 42, 58);
        font-family: Open Sans, sans-serif;
        height: 90vh;
      }
      #root {
        height: 100%;
        width: 100%;
        display: flex;
        align-items: center;
        justify-content: center;
      }
      .loading {
        font-size: 32px;
        font-weight: 200;
        color: rgba(255, 255, 255, .6);
        margin-left: 20px;
      }
      img {
        width: 78px;
        height: 78px;
      }
      .title {
        font-weight: 400;
      }
    </style>
    <img src='https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/logo.png' alt=''>
    <div class="loading">
      <span class="title">Chain Vote GraphQL Playground</span>
    </div>
  </div>
  <script>window.addEventListener('load', function (event) {
      GraphQLPlayground.init(document.getElementById('root'), {
        endpoint: '/graphql'
      })
    })</script>
</body>
</html>
`
