package dynamodb

import (
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

type item = map[string]*dynamodb.AttributeValue

// fakeClient is an in-memory table that understands the expressions issued
// by Store. Methods Store does not call panic through the nil embedded
// interface.
type fakeClient struct {
	dynamodbiface.DynamoDBAPI

	mu         sync.Mutex
	items      map[namespaceAndKey]item
	batchSizes []int
	failWith   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{items: make(map[namespaceAndKey]item)}
}

func keyOf(av item) namespaceAndKey {
	return namespaceAndKey{namespace: aws.StringValue(av[tablePartitionKey].S), key: aws.StringValue(av[tableSortKey].S)}
}

func cloneItem(av item) item {
	out := make(item, len(av))
	for k, v := range av {
		out[k] = v
	}
	return out
}

func (f *fakeClient) conditionHolds(expr *string, k namespaceAndKey) bool {
	_, exists := f.items[k]
	switch aws.StringValue(expr) {
	case "":
		return true
	case "attribute_not_exists(#key)":
		return !exists
	case "attribute_exists(#key)":
		return exists
	}
	panic("fake: unsupported condition " + aws.StringValue(expr))
}

func conditionFailed() error {
	return awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
}

func (f *fakeClient) GetItemWithContext(_ aws.Context, in *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := &dynamodb.GetItemOutput{}
	if av, ok := f.items[keyOf(in.Key)]; ok {
		out.Item = cloneItem(av)
	}
	return out, nil
}

func (f *fakeClient) PutItemWithContext(_ aws.Context, in *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	k := keyOf(in.Item)
	if !f.conditionHolds(in.ConditionExpression, k) {
		return nil, conditionFailed()
	}
	f.items[k] = cloneItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) UpdateItemWithContext(_ aws.Context, in *dynamodb.UpdateItemInput, _ ...request.Option) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	k := keyOf(in.Key)
	if !f.conditionHolds(in.ConditionExpression, k) {
		return nil, conditionFailed()
	}
	av := cloneItem(f.items[k])
	name := func(placeholder string) string { return aws.StringValue(in.ExpressionAttributeNames[placeholder]) }

	expr := aws.StringValue(in.UpdateExpression)
	setPart, removePart, _ := strings.Cut(expr, " REMOVE ")
	for _, clause := range splitTopLevel(strings.TrimPrefix(setPart, "SET ")) {
		target, value, _ := strings.Cut(clause, " = ")
		attr := name(strings.TrimSpace(target))
		value = strings.TrimSpace(value)
		if strings.HasPrefix(value, "if_not_exists(") {
			args := strings.Split(strings.TrimSuffix(strings.TrimPrefix(value, "if_not_exists("), ")"), ",")
			if _, ok := av[name(strings.TrimSpace(args[0]))]; ok {
				continue
			}
			value = strings.TrimSpace(args[1])
		}
		av[attr] = in.ExpressionAttributeValues[value]
	}
	if removePart != "" {
		for _, placeholder := range strings.Split(removePart, ",") {
			delete(av, name(strings.TrimSpace(placeholder)))
		}
	}
	f.items[k] = av
	return &dynamodb.UpdateItemOutput{Attributes: cloneItem(av)}, nil
}

func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func (f *fakeClient) query(in *dynamodb.QueryInput) []item {
	namespace := aws.StringValue(in.KeyConditions[tablePartitionKey].AttributeValueList[0].S)
	var out []item
	for k, av := range f.items {
		if k.namespace == namespace {
			out = append(out, cloneItem(av))
			if in.Limit != nil && int64(len(out)) >= *in.Limit {
				break
			}
		}
	}
	return out
}

func (f *fakeClient) QueryWithContext(_ aws.Context, in *dynamodb.QueryInput, _ ...request.Option) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	items := f.query(in)
	return &dynamodb.QueryOutput{Items: items, Count: aws.Int64(int64(len(items)))}, nil
}

// QueryPagesWithContext serves results two items per page.
func (f *fakeClient) QueryPagesWithContext(_ aws.Context, in *dynamodb.QueryInput, fn func(*dynamodb.QueryOutput, bool) bool, _ ...request.Option) error {
	f.mu.Lock()
	if f.failWith != nil {
		f.mu.Unlock()
		return f.failWith
	}
	items := f.query(in)
	f.mu.Unlock()

	if len(items) == 0 {
		fn(&dynamodb.QueryOutput{}, true)
		return nil
	}
	for len(items) > 0 {
		n := min(2, len(items))
		page := items[:n]
		items = items[n:]
		if !fn(&dynamodb.QueryOutput{Items: page}, len(items) == 0) {
			return nil
		}
	}
	return nil
}

func (f *fakeClient) TransactWriteItemsWithContext(_ aws.Context, in *dynamodb.TransactWriteItemsInput, _ ...request.Option) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}

	reasons := make([]*dynamodb.CancellationReason, 0, len(in.TransactItems))
	cancelled := false
	for _, ti := range in.TransactItems {
		var holds bool
		switch {
		case ti.Put != nil:
			holds = f.conditionHolds(ti.Put.ConditionExpression, keyOf(ti.Put.Item))
		case ti.Delete != nil:
			holds = f.conditionHolds(ti.Delete.ConditionExpression, keyOf(ti.Delete.Key))
		default:
			panic("fake: unsupported transact item")
		}
		code := "None"
		if !holds {
			code = "ConditionalCheckFailed"
			cancelled = true
		}
		reasons = append(reasons, &dynamodb.CancellationReason{Code: aws.String(code)})
	}
	if cancelled {
		return nil, &dynamodb.TransactionCanceledException{
			Message_:            aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		if ti.Put != nil {
			f.items[keyOf(ti.Put.Item)] = cloneItem(ti.Put.Item)
		} else {
			delete(f.items, keyOf(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeClient) BatchWriteItemWithContext(_ aws.Context, in *dynamodb.BatchWriteItemInput, _ ...request.Option) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, requests := range in.RequestItems {
		f.batchSizes = append(f.batchSizes, len(requests))
		for _, req := range requests {
			if req.PutRequest != nil {
				f.items[keyOf(req.PutRequest.Item)] = cloneItem(req.PutRequest.Item)
			} else {
				delete(f.items, keyOf(req.DeleteRequest.Key))
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (f *fakeClient) count(namespace string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k := range f.items {
		if k.namespace == namespace {
			n++
		}
	}
	return n
}
