// Package export builds payroll-run reports and hands out presigned S3 URLs
// for uploading and fetching them. Reports carry no plaintext amounts, only
// handles and record metadata, so the object store never sees a salary.
package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/veilpay/internal/config"
	"github.com/dmitrijs2005/veilpay/internal/payroll"
	"github.com/dmitrijs2005/veilpay/internal/repo"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// ReportPayment is one payment record as it appears in a run report. The
// amount stays a ciphertext handle.
type ReportPayment struct {
	ID           int64     `json:"id"`
	Employee     string    `json:"employee"`
	AmountHandle string    `json:"amount_handle"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	ReleaseTime  time.Time `json:"release_time,omitempty"`
	Milestone    string    `json:"milestone,omitempty"`
}

// Report is the JSON document exported for one payroll run.
type Report struct {
	RunID          int64           `json:"run_id"`
	ExecutedAt     time.Time       `json:"executed_at"`
	Processed      int             `json:"processed"`
	FirstPaymentID int64           `json:"first_payment_id"`
	Payments       []ReportPayment `json:"payments"`
}

type Service struct {
	db     *sql.DB
	repos  repo.Manager
	config *config.Config
}

func NewService(db *sql.DB, repos repo.Manager, config *config.Config) *Service {
	return &Service{
		db:     db,
		repos:  repos,
		config: config,
	}
}

// ReportStorageKey returns a date-partitioned object key for a run report.
func ReportStorageKey(runID int64) string {
	d := time.Now()
	return fmt.Sprintf("reports/%d/%d/%d/run-%d-%v.json", d.Year(), d.Month(), d.Day(), runID, uuid.New())
}

// BuildReport assembles the report document for one run: the run summary
// plus every payment record the run created, in id order.
func (s *Service) BuildReport(ctx context.Context, runID int64) (*Report, error) {
	run, err := s.repos.Runs(s.db).Get(ctx, runID)
	if err != nil {
		if errors.Is(err, payroll.ErrNotFound) {
			return nil, payroll.ErrNotFound
		}
		return nil, fmt.Errorf("export: load run: %w", err)
	}

	all, err := s.repos.Payments(s.db).ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: list payments: %w", err)
	}

	report := &Report{
		RunID:          run.ID,
		ExecutedAt:     run.ExecutedAt,
		Processed:      run.Processed,
		FirstPaymentID: run.FirstPaymentID,
	}
	last := run.FirstPaymentID + int64(run.Payments)
	for _, p := range all {
		if p.ID < run.FirstPaymentID || p.ID >= last {
			continue
		}
		report.Payments = append(report.Payments, ReportPayment{
			ID:           p.ID,
			Employee:     string(p.Employee),
			AmountHandle: string(p.Amount),
			Status:       p.Status.String(),
			CreatedAt:    p.CreatedAt,
			ReleaseTime:  p.ReleaseTime,
			Milestone:    p.Milestone,
		})
	}
	return report, nil
}

// MarshalReport renders a report for upload.
func MarshalReport(r *Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: marshal report: %w", err)
	}
	return data, nil
}

func (s *Service) getPresignClient() (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		awsconfig.WithRegion(s.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,     // MINIO_ROOT_USER
			s.config.S3RootPassword, // MINIO_ROOT_PASSWORD
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
	})

	return newS3PresignClient(client), nil
}

// GetPresignedPutUrl returns a fresh storage key for a run report and a
// presigned PUT URL valid for 15 minutes.
func (s *Service) GetPresignedPutUrl(ctx context.Context, runID int64) (string, string, error) {

	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", "", err
	}

	bucket := s.config.S3Bucket
	key := ReportStorageKey(runID)

	// Presigned PUT
	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(15*time.Minute))

	if err != nil {
		return "", "", err
	}

	return key, req.URL, nil
}

// GetPresignedGetUrl returns a presigned GET URL for an already uploaded
// report, valid for 15 minutes.
func (s *Service) GetPresignedGetUrl(ctx context.Context, key string) (string, error) {

	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket

	// Presigned GET
	req, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", err
	}

	return req.URL, nil
}
