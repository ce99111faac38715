// Package dynamodb implements the hosted-c store on Amazon DynamoDB with
// github.com/aws/aws-sdk-go.
//
// Every record lives in one table whose partition key is "namespace" and sort
// key is "key". Namespaces are derived from a configurable prefix:
//
//	{prefix}:attendee  key = attendee id
//	{prefix}:name      key = lowercased trimmed name, holds the owning attendee id
//	{prefix}:survey    key = survey id
//	{prefix}:sync      key = "slot", the polled sync slot
//
// Name items act as uniqueness locks: an attendee and its name item are
// written in one conditional transaction, so concurrent creations of the
// same name from different devices are arbitrated by DynamoDB.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"github.com/example/event-checkin/internal/persistence"
)

const (
	tablePartitionKey = "namespace"
	tableSortKey      = "key"

	// DefaultPrefix namespaces every item written by the store.
	DefaultPrefix = "checkin"

	maxBatchSize     = 25
	maxBatchAttempts = 5
)

// Options configures the store.
type Options struct {
	Table    string
	Region   string
	Endpoint string
	// Credentials is "ACCESS_KEY_ID:SECRET_ACCESS_KEY". When empty the
	// default AWS credential chain is used.
	Credentials string
	Prefix      string
}

// Store is a persistence.Store backed by a DynamoDB table.
type Store struct {
	client dynamodbiface.DynamoDBAPI
	table  string
	prefix string
	logger *slog.Logger
}

// Open builds a DynamoDB client from opts. No request is sent until the
// first operation.
func Open(opts Options, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(opts.Table) == "" {
		return nil, errors.New("dynamodb: table is required")
	}
	cfg := aws.Config{}
	if opts.Region != "" {
		cfg.Region = aws.String(opts.Region)
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
	}
	if opts.Credentials != "" {
		id, secret, ok := strings.Cut(opts.Credentials, ":")
		if !ok {
			return nil, errors.New("dynamodb: credentials must be ACCESS_KEY_ID:SECRET_ACCESS_KEY")
		}
		cfg.Credentials = credentials.NewStaticCredentials(id, secret, "")
	}
	sess, err := session.NewSessionWithOptions(session.Options{Config: cfg})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: create session: %w", err)
	}
	return New(dynamodb.New(sess), opts.Table, opts.Prefix, logger), nil
}

// New wraps an existing client.
func New(client dynamodbiface.DynamoDBAPI, table, prefix string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		client: client,
		table:  table,
		prefix: prefix,
		logger: logger.With("component", "dynamodb_store", "table", table),
	}
}

func (s *Store) attendeeNamespace() string { return s.prefix + ":attendee" }
func (s *Store) nameNamespace() string     { return s.prefix + ":name" }
func (s *Store) surveyNamespace() string   { return s.prefix + ":survey" }
func (s *Store) syncNamespace() string     { return s.prefix + ":sync" }

type attendeeItem struct {
	Namespace   string     `dynamodbav:"namespace"`
	Key         string     `dynamodbav:"key"`
	Name        string     `dynamodbav:"name"`
	Group       string     `dynamodbav:"group"`
	Present     bool       `dynamodbav:"present"`
	ArrivalTime *time.Time `dynamodbav:"arrivalTime,omitempty"`
	CreatedAt   time.Time  `dynamodbav:"createdAt"`
	UpdatedAt   time.Time  `dynamodbav:"updatedAt"`
}

func (i attendeeItem) attendee() persistence.Attendee {
	attendee := persistence.Attendee{
		ID:        i.Key,
		Name:      i.Name,
		Group:     i.Group,
		Present:   i.Present,
		CreatedAt: i.CreatedAt.UTC(),
		UpdatedAt: i.UpdatedAt.UTC(),
	}
	if i.ArrivalTime != nil {
		at := i.ArrivalTime.UTC()
		attendee.ArrivalTime = &at
	}
	return attendee
}

type nameItem struct {
	Namespace  string `dynamodbav:"namespace"`
	Key        string `dynamodbav:"key"`
	AttendeeID string `dynamodbav:"attendeeId"`
}

type surveyItem struct {
	Namespace        string    `dynamodbav:"namespace"`
	Key              string    `dynamodbav:"key"`
	ParticipantName  string    `dynamodbav:"participantName,omitempty"`
	Score            int       `dynamodbav:"score"`
	QualityRating    int       `dynamodbav:"qualityRating"`
	InstructorRating int       `dynamodbav:"instructorRating"`
	Comments         string    `dynamodbav:"comments,omitempty"`
	CreatedAt        time.Time `dynamodbav:"createdAt"`
}

func (i surveyItem) survey() persistence.SurveyResponse {
	return persistence.SurveyResponse{
		ID:               i.Key,
		ParticipantName:  i.ParticipantName,
		Score:            i.Score,
		QualityRating:    i.QualityRating,
		InstructorRating: i.InstructorRating,
		Comments:         i.Comments,
		CreatedAt:        i.CreatedAt.UTC(),
	}
}

func (s *Store) marshalAttendee(attendee persistence.Attendee) (map[string]*dynamodb.AttributeValue, error) {
	return dynamodbattribute.MarshalMap(attendeeItem{
		Namespace:   s.attendeeNamespace(),
		Key:         attendee.ID,
		Name:        attendee.Name,
		Group:       attendee.Group,
		Present:     attendee.Present,
		ArrivalTime: attendee.ArrivalTime,
		CreatedAt:   attendee.CreatedAt.UTC(),
		UpdatedAt:   attendee.UpdatedAt.UTC(),
	})
}

func (s *Store) marshalName(attendee persistence.Attendee) (map[string]*dynamodb.AttributeValue, error) {
	return dynamodbattribute.MarshalMap(nameItem{
		Namespace:  s.nameNamespace(),
		Key:        persistence.NameKey(attendee.Name),
		AttendeeID: attendee.ID,
	})
}

func (s *Store) marshalSurvey(survey persistence.SurveyResponse) (map[string]*dynamodb.AttributeValue, error) {
	return dynamodbattribute.MarshalMap(surveyItem{
		Namespace:        s.surveyNamespace(),
		Key:              survey.ID,
		ParticipantName:  survey.ParticipantName,
		Score:            survey.Score,
		QualityRating:    survey.QualityRating,
		InstructorRating: survey.InstructorRating,
		Comments:         survey.Comments,
		CreatedAt:        survey.CreatedAt.UTC(),
	})
}

func itemKey(namespace, key string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		tablePartitionKey: {S: aws.String(namespace)},
		tableSortKey:      {S: aws.String(key)},
	}
}

var keyNames = map[string]*string{
	"#namespace": aws.String(tablePartitionKey),
	"#key":       aws.String(tableSortKey),
}

func isConditionFailure(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

// cancellationReasons returns the per-item codes of a cancelled transaction.
func cancellationReasons(err error) ([]string, bool) {
	var tce *dynamodb.TransactionCanceledException
	if errors.As(err, &tce) {
		codes := make([]string, 0, len(tce.CancellationReasons))
		for _, reason := range tce.CancellationReasons {
			codes = append(codes, aws.StringValue(reason.Code))
		}
		return codes, true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeTransactionCanceledException {
		// Older transports only expose the reasons in the message,
		// e.g. "... [ConditionalCheckFailed, None]".
		msg := aerr.Message()
		if open := strings.LastIndex(msg, "["); open >= 0 && strings.HasSuffix(msg, "]") {
			parts := strings.Split(msg[open+1:len(msg)-1], ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts, true
		}
		return nil, true
	}
	return nil, false
}

// Name implements persistence.Store.
func (s *Store) Name() string { return "hosted-c" }

// Probe performs a bounded single-item query.
func (s *Store) Probe(ctx context.Context) error {
	_, err := s.client.QueryWithContext(ctx, s.namespaceQuery(s.attendeeNamespace(), aws.Int64(1)))
	if err != nil {
		return fmt.Errorf("dynamodb: probe: %w", err)
	}
	return nil
}

// Close implements persistence.Store. The SDK client holds no resources
// that need releasing.
func (s *Store) Close() error { return nil }

func (s *Store) namespaceQuery(namespace string, limit *int64) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
		Limit:          limit,
		KeyConditions: map[string]*dynamodb.Condition{
			tablePartitionKey: {
				ComparisonOperator: aws.String(dynamodb.ComparisonOperatorEq),
				AttributeValueList: []*dynamodb.AttributeValue{{S: aws.String(namespace)}},
			},
		},
	}
}

func (s *Store) queryNamespace(ctx context.Context, namespace string) ([]map[string]*dynamodb.AttributeValue, error) {
	var items []map[string]*dynamodb.AttributeValue
	err := s.client.QueryPagesWithContext(ctx, s.namespaceQuery(namespace, nil),
		func(out *dynamodb.QueryOutput, lastPage bool) bool {
			items = append(items, out.Items...)
			return !lastPage
		})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: query %s: %w", namespace, err)
	}
	return items, nil
}

// ListAttendees implements persistence.Store.
func (s *Store) ListAttendees(ctx context.Context) ([]persistence.Attendee, error) {
	items, err := s.queryNamespace(ctx, s.attendeeNamespace())
	if err != nil {
		return nil, err
	}
	attendees := make([]persistence.Attendee, 0, len(items))
	for _, raw := range items {
		var item attendeeItem
		if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("dynamodb: decode attendee: %w", err)
		}
		attendees = append(attendees, item.attendee())
	}
	persistence.SortAttendees(attendees)
	return attendees, nil
}

// CreateAttendee writes the name lock and the attendee in one transaction.
func (s *Store) CreateAttendee(ctx context.Context, attendee persistence.Attendee) error {
	nameAV, err := s.marshalName(attendee)
	if err != nil {
		return fmt.Errorf("dynamodb: encode name: %w", err)
	}
	attendeeAV, err := s.marshalAttendee(attendee)
	if err != nil {
		return fmt.Errorf("dynamodb: encode attendee: %w", err)
	}

	_, err = s.client.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{Put: &dynamodb.Put{
				TableName:                aws.String(s.table),
				Item:                     nameAV,
				ConditionExpression:      aws.String("attribute_not_exists(#key)"),
				ExpressionAttributeNames: map[string]*string{"#key": aws.String(tableSortKey)},
			}},
			{Put: &dynamodb.Put{
				TableName:                aws.String(s.table),
				Item:                     attendeeAV,
				ConditionExpression:      aws.String("attribute_not_exists(#key)"),
				ExpressionAttributeNames: map[string]*string{"#key": aws.String(tableSortKey)},
			}},
		},
	})
	if err == nil {
		return nil
	}
	if reasons, ok := cancellationReasons(err); ok {
		if len(reasons) > 0 && reasons[0] == "ConditionalCheckFailed" {
			return persistence.ErrDuplicateName
		}
		if len(reasons) > 1 && reasons[1] == "ConditionalCheckFailed" {
			return fmt.Errorf("dynamodb: attendee %s already exists", attendee.ID)
		}
	}
	return fmt.Errorf("dynamodb: create attendee: %w", err)
}

// SetPresence updates presence and arrival time in one conditional
// UpdateItem. if_not_exists keeps the first arrival while already present.
func (s *Store) SetPresence(ctx context.Context, id string, present bool, at time.Time) (persistence.Attendee, error) {
	atAV, err := dynamodbattribute.Marshal(at.UTC())
	if err != nil {
		return persistence.Attendee{}, fmt.Errorf("dynamodb: encode time: %w", err)
	}

	names := map[string]*string{
		"#key":         aws.String(tableSortKey),
		"#present":     aws.String("present"),
		"#updatedAt":   aws.String("updatedAt"),
		"#arrivalTime": aws.String("arrivalTime"),
	}
	values := map[string]*dynamodb.AttributeValue{
		":present": {BOOL: aws.Bool(present)},
		":at":      atAV,
	}
	expr := "SET #present = :present, #updatedAt = :at, #arrivalTime = if_not_exists(#arrivalTime, :at)"
	if !present {
		expr = "SET #present = :present, #updatedAt = :at REMOVE #arrivalTime"
	}

	out, err := s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       itemKey(s.attendeeNamespace(), id),
		ConditionExpression:       aws.String("attribute_exists(#key)"),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              aws.String(dynamodb.ReturnValueAllNew),
	})
	if isConditionFailure(err) {
		return persistence.Attendee{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.Attendee{}, fmt.Errorf("dynamodb: set presence: %w", err)
	}

	var item attendeeItem
	if err := dynamodbattribute.UnmarshalMap(out.Attributes, &item); err != nil {
		return persistence.Attendee{}, fmt.Errorf("dynamodb: decode attendee: %w", err)
	}
	return item.attendee(), nil
}

// DeleteAttendee removes the attendee and its name lock together.
func (s *Store) DeleteAttendee(ctx context.Context, id string) (bool, error) {
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
		Key:            itemKey(s.attendeeNamespace(), id),
	})
	if err != nil {
		return false, fmt.Errorf("dynamodb: get attendee: %w", err)
	}
	if len(out.Item) == 0 {
		return false, nil
	}
	var item attendeeItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return false, fmt.Errorf("dynamodb: decode attendee: %w", err)
	}

	_, err = s.client.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{Delete: &dynamodb.Delete{
				TableName:                aws.String(s.table),
				Key:                      itemKey(s.attendeeNamespace(), id),
				ConditionExpression:      aws.String("attribute_exists(#key)"),
				ExpressionAttributeNames: map[string]*string{"#key": aws.String(tableSortKey)},
			}},
			{Delete: &dynamodb.Delete{
				TableName: aws.String(s.table),
				Key:       itemKey(s.nameNamespace(), persistence.NameKey(item.Name)),
			}},
		},
	})
	if err != nil {
		if _, ok := cancellationReasons(err); ok {
			// Removed concurrently by another device.
			return false, nil
		}
		return false, fmt.Errorf("dynamodb: delete attendee: %w", err)
	}
	return true, nil
}

// ClearAttendees implements persistence.Store.
func (s *Store) ClearAttendees(ctx context.Context) error {
	return s.replaceNamespaces(ctx, nil, s.attendeeNamespace(), s.nameNamespace())
}

// ListSurveys implements persistence.Store.
func (s *Store) ListSurveys(ctx context.Context) ([]persistence.SurveyResponse, error) {
	items, err := s.queryNamespace(ctx, s.surveyNamespace())
	if err != nil {
		return nil, err
	}
	surveys := make([]persistence.SurveyResponse, 0, len(items))
	for _, raw := range items {
		var item surveyItem
		if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("dynamodb: decode survey: %w", err)
		}
		surveys = append(surveys, item.survey())
	}
	persistence.SortSurveys(surveys)
	return surveys, nil
}

// CreateSurvey implements persistence.Store.
func (s *Store) CreateSurvey(ctx context.Context, survey persistence.SurveyResponse) error {
	av, err := s.marshalSurvey(survey)
	if err != nil {
		return fmt.Errorf("dynamodb: encode survey: %w", err)
	}
	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#key)"),
		ExpressionAttributeNames: map[string]*string{"#key": aws.String(tableSortKey)},
	})
	if isConditionFailure(err) {
		return fmt.Errorf("dynamodb: survey %s already exists", survey.ID)
	}
	if err != nil {
		return fmt.Errorf("dynamodb: create survey: %w", err)
	}
	return nil
}

// ClearSurveys implements persistence.Store.
func (s *Store) ClearSurveys(ctx context.Context) error {
	return s.replaceNamespaces(ctx, nil, s.surveyNamespace())
}

// ReplaceAll writes the new items first and then deletes every previously
// existing item that was not rewritten. It is not atomic across batches.
func (s *Store) ReplaceAll(ctx context.Context, attendees []persistence.Attendee, surveys []persistence.SurveyResponse) error {
	var puts []map[string]*dynamodb.AttributeValue
	names := make(map[string]struct{}, len(attendees))
	for _, attendee := range attendees {
		key := persistence.NameKey(attendee.Name)
		if _, ok := names[key]; ok {
			return persistence.ErrDuplicateName
		}
		names[key] = struct{}{}

		attendeeAV, err := s.marshalAttendee(attendee)
		if err != nil {
			return fmt.Errorf("dynamodb: encode attendee: %w", err)
		}
		nameAV, err := s.marshalName(attendee)
		if err != nil {
			return fmt.Errorf("dynamodb: encode name: %w", err)
		}
		puts = append(puts, attendeeAV, nameAV)
	}
	for _, survey := range surveys {
		av, err := s.marshalSurvey(survey)
		if err != nil {
			return fmt.Errorf("dynamodb: encode survey: %w", err)
		}
		puts = append(puts, av)
	}
	return s.replaceNamespaces(ctx, puts, s.attendeeNamespace(), s.nameNamespace(), s.surveyNamespace())
}

type namespaceAndKey struct {
	namespace string
	key       string
}

// replaceNamespaces writes puts and deletes every other item found in the
// given namespaces.
func (s *Store) replaceNamespaces(ctx context.Context, puts []map[string]*dynamodb.AttributeValue, namespaces ...string) error {
	unused := make(map[namespaceAndKey]bool)
	for _, namespace := range namespaces {
		items, err := s.queryNamespace(ctx, namespace)
		if err != nil {
			return err
		}
		for _, item := range items {
			unused[namespaceAndKey{namespace: aws.StringValue(item[tablePartitionKey].S), key: aws.StringValue(item[tableSortKey].S)}] = true
		}
	}

	requests := make([]*dynamodb.WriteRequest, 0, len(puts)+len(unused))
	for _, item := range puts {
		requests = append(requests, &dynamodb.WriteRequest{PutRequest: &dynamodb.PutRequest{Item: item}})
		unused[namespaceAndKey{namespace: aws.StringValue(item[tablePartitionKey].S), key: aws.StringValue(item[tableSortKey].S)}] = false
	}
	for k, stale := range unused {
		if stale {
			requests = append(requests, &dynamodb.WriteRequest{
				DeleteRequest: &dynamodb.DeleteRequest{Key: itemKey(k.namespace, k.key)},
			})
		}
	}

	if err := s.batchWriteRequests(ctx, requests); err != nil {
		s.logger.Error("batch write failed", "requests", len(requests), "error", err)
		return err
	}
	return nil
}

// batchWriteRequests executes write requests in batches of 25, the maximum
// BatchWriteItem accepts, resubmitting unprocessed items.
func (s *Store) batchWriteRequests(ctx context.Context, requests []*dynamodb.WriteRequest) error {
	for len(requests) > 0 {
		size := min(len(requests), maxBatchSize)
		batch := requests[:size]
		requests = requests[size:]

		for attempt := 0; len(batch) > 0; attempt++ {
			if attempt >= maxBatchAttempts {
				return fmt.Errorf("dynamodb: %d items left unprocessed", len(batch))
			}
			out, err := s.client.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]*dynamodb.WriteRequest{s.table: batch},
			})
			if err != nil {
				return fmt.Errorf("dynamodb: batch write: %w", err)
			}
			batch = out.UnprocessedItems[s.table]
		}
	}
	return nil
}
