package sqs

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oip/dpjob/internal/framework"
	"oip/dpjob/pkg/jobx"
)

type fakeAPI struct {
	API // 未实现的方法调用时 panic

	host      string
	urlIn     *sqs.GetQueueUrlInput
	owners    []string
	receiveIn *sqs.ReceiveMessageInput
	sendIn    *sqs.SendMessageInput
	visIn     *sqs.ChangeMessageVisibilityInput
	messages  []types.Message
	err       error
}

func (f *fakeAPI) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	f.urlIn = in
	f.owners = append(f.owners, aws.ToString(in.QueueOwnerAWSAccountId))
	if f.err != nil {
		return nil, f.err
	}
	host := f.host
	if host == "" {
		host = "https://sqs.local"
	}
	owner := aws.ToString(in.QueueOwnerAWSAccountId)
	if owner == "" {
		owner = "123"
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(host + "/" + owner + "/" + aws.ToString(in.QueueName))}, nil
}

func (f *fakeAPI) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.receiveIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sendIn = in
	return &sqs.SendMessageOutput{MessageId: aws.String("m-2")}, f.err
}

func (f *fakeAPI) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.visIn = in
	return &sqs.ChangeMessageVisibilityOutput{}, f.err
}

func TestResolveQueueURL(t *testing.T) {
	api := &fakeAPI{}
	c := NewFromAPI(api, "123456789012")

	url, err := c.ResolveQueueURL(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.local/123456789012/orders", url)
	assert.Equal(t, "123456789012", aws.ToString(api.urlIn.QueueOwnerAWSAccountId))

	api.err = &types.QueueDoesNotExist{Message: aws.String("no such queue")}
	_, err = c.ResolveQueueURL(context.Background(), "missing")
	require.Error(t, err)
	var notFound *types.QueueDoesNotExist
	assert.ErrorAs(t, err, &notFound)
}

func TestResolvePerQueueAccount(t *testing.T) {
	api := &fakeAPI{}
	r := framework.NewResolver(NewFromAPI(api, "999999999999"))
	ctx := context.Background()

	orders, err := r.ResolveAt(ctx, "orders", framework.Location{AccountID: "111111111111"})
	require.NoError(t, err)
	payments, err := r.ResolveAt(ctx, "payments", framework.Location{AccountID: "222222222222"})
	require.NoError(t, err)
	audit, err := r.ResolveAt(ctx, "audit", framework.Location{})
	require.NoError(t, err)

	assert.Equal(t, []string{"111111111111", "222222222222", "999999999999"}, api.owners)
	assert.Equal(t, "https://sqs.local/111111111111/orders", orders)
	assert.Equal(t, "https://sqs.local/222222222222/payments", payments)
	assert.Equal(t, "https://sqs.local/999999999999/audit", audit)
}

func TestResolveOtherRegion(t *testing.T) {
	home := &fakeAPI{host: "https://sqs.us-east-1"}
	eu := &fakeAPI{host: "https://sqs.eu-west-1"}
	created := 0
	factory := func(_ context.Context, region string) (API, error) {
		created++
		if region != "eu-west-1" {
			return nil, errors.New("unexpected region " + region)
		}
		return eu, nil
	}

	c := NewFromAPI(home, "", WithRegions("us-east-1", factory))
	ctx := context.Background()

	url, err := c.ResolveQueueURLAt(ctx, "orders", framework.Location{Region: "eu-west-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.eu-west-1/123/orders", url)

	_, err = c.ResolveQueueURLAt(ctx, "orders_dlq", framework.Location{Region: "eu-west-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	// 后续收发按地址路由到对应区域
	_, err = c.ReceiveMessages(ctx, url, 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, eu.receiveIn)
	assert.Nil(t, home.receiveIn)

	// 默认区域复用主客户端
	homeURL, err := c.ResolveQueueURLAt(ctx, "orders", framework.Location{Region: "us-east-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.us-east-1/123/orders", homeURL)
	assert.Equal(t, 1, created)

	_, err = c.ResolveQueueURLAt(ctx, "orders", framework.Location{Region: "ap-south-1"})
	assert.Error(t, err)
}

func TestResolveOtherRegionWithoutFactory(t *testing.T) {
	c := NewFromAPI(&fakeAPI{}, "")
	_, err := c.ResolveQueueURLAt(context.Background(), "orders", framework.Location{Region: "eu-west-1"})
	assert.Error(t, err)
}

func TestReceiveMessages(t *testing.T) {
	api := &fakeAPI{messages: []types.Message{{
		MessageId:     aws.String("m-1"),
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String(`{"order_id":1}`),
		Attributes: map[string]string{
			"ApproximateReceiveCount": "3",
			"SentTimestamp":           "1700000000000",
		},
		MessageAttributes: map[string]types.MessageAttributeValue{
			"tenant":                 {DataType: aws.String("String"), StringValue: aws.String("acme")},
			"blob":                   {DataType: aws.String("Binary"), BinaryValue: []byte{1, 2}},
			jobx.JobMetadataAttribute: {DataType: aws.String("String"), StringValue: aws.String(`{"idempotence_key":"k1"}`)},
		},
	}}}
	c := NewFromAPI(api, "")

	msgs, err := c.ReceiveMessages(context.Background(), "url", 50, 60)
	require.NoError(t, err)
	assert.Equal(t, int32(10), api.receiveIn.MaxNumberOfMessages)
	assert.Equal(t, int32(20), api.receiveIn.WaitTimeSeconds)
	assert.Equal(t, []string{"All"}, api.receiveIn.MessageAttributeNames)

	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, "m-1", m.ID)
	assert.Equal(t, "rh-1", m.ReceiptHandle)
	assert.Equal(t, 3, m.ReceiveCount)
	assert.Equal(t, "acme", m.MessageAttributes["tenant"])
	assert.NotContains(t, m.MessageAttributes, "blob")
	assert.Equal(t, "1700000000000", m.Attributes["SentTimestamp"])

	env := jobx.NewEnvelope(jobx.EnvelopeInput{
		ID:                m.ID,
		Body:              m.Body,
		QueueName:         "orders",
		ReceiveCount:      m.ReceiveCount,
		MessageAttributes: m.MessageAttributes,
		SystemAttributes:  m.Attributes,
	})
	key, err := env.IdempotenceKey()
	require.NoError(t, err)
	assert.Equal(t, "k1", key)
}

func TestReceiveMessagesError(t *testing.T) {
	api := &fakeAPI{err: errors.New("throttled")}
	_, err := NewFromAPI(api, "").ReceiveMessages(context.Background(), "url", 0, -1)
	require.Error(t, err)
	assert.Equal(t, int32(1), api.receiveIn.MaxNumberOfMessages)
	assert.Equal(t, int32(0), api.receiveIn.WaitTimeSeconds)
}

func TestSendMessage(t *testing.T) {
	api := &fakeAPI{}
	c := NewFromAPI(api, "")

	require.NoError(t, c.SendMessage(context.Background(), "dlq-url", "body", map[string]string{"tenant": "acme"}))
	assert.Equal(t, "dlq-url", aws.ToString(api.sendIn.QueueUrl))
	assert.Equal(t, "body", aws.ToString(api.sendIn.MessageBody))
	attr := api.sendIn.MessageAttributes["tenant"]
	assert.Equal(t, "String", aws.ToString(attr.DataType))
	assert.Equal(t, "acme", aws.ToString(attr.StringValue))

	require.NoError(t, c.SendMessage(context.Background(), "dlq-url", "plain", nil))
	assert.Nil(t, api.sendIn.MessageAttributes)
}

func TestChangeMessageVisibility(t *testing.T) {
	api := &fakeAPI{}
	c := NewFromAPI(api, "")

	require.NoError(t, c.ChangeMessageVisibility(context.Background(), "url", "rh", 120))
	assert.Equal(t, int32(120), api.visIn.VisibilityTimeout)
	assert.Equal(t, "rh", aws.ToString(api.visIn.ReceiptHandle))

	api.err = errors.New("receipt handle expired")
	assert.Error(t, c.ChangeMessageVisibility(context.Background(), "url", "rh", 120))
}
