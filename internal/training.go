package internal

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
)

// Retraining defaults for the DeepAR estimator. Hyperparameters mirror
// the last manual training run.
const (
	trainingInstanceType  = types.TrainingInstanceTypeMlM5Xlarge
	trainingVolumeGB      = 30
	trainingMaxRuntimeSec = 3600
)

var deepARHyperparameters = map[string]string{
	"time_freq":               "D",
	"context_length":          "28",
	"prediction_length":       "14",
	"epochs":                  "100",
	"early_stopping_patience": "10",
}

// StartRetrainingJob launches a DeepAR training job against the forecast
// rows of the given pipeline run and returns the job name. The training
// image, role, and output path come from environment configuration.
func StartRetrainingJob(ctx context.Context, bucket, runPrefix string) (string, error) {
	image := os.Getenv("TRAINING_IMAGE")
	role := os.Getenv("TRAINING_ROLE_ARN")
	if image == "" || role == "" {
		return "", fmt.Errorf("TRAINING_IMAGE and TRAINING_ROLE_ARN must be configured")
	}

	cfg := getAWSConfig()
	client := sagemaker.NewFromConfig(cfg)

	jobName := fmt.Sprintf("ordercast-deepar-%d", time.Now().UTC().Unix())
	trainURI := fmt.Sprintf("s3://%s/%s", bucket, runPrefix)
	outputURI := fmt.Sprintf("s3://%s/model/", bucket)

	_, err := client.CreateTrainingJob(ctx, &sagemaker.CreateTrainingJobInput{
		TrainingJobName: aws.String(jobName),
		RoleArn:         aws.String(role),
		AlgorithmSpecification: &types.AlgorithmSpecification{
			TrainingImage:     aws.String(image),
			TrainingInputMode: types.TrainingInputModeFile,
		},
		HyperParameters: deepARHyperparameters,
		InputDataConfig: []types.Channel{{
			ChannelName: aws.String("train"),
			DataSource: &types.DataSource{
				S3DataSource: &types.S3DataSource{
					S3DataType:             types.S3DataTypeS3Prefix,
					S3Uri:                  aws.String(trainURI),
					S3DataDistributionType: types.S3DataDistributionFullyReplicated,
				},
			},
			ContentType: aws.String("json"),
		}},
		OutputDataConfig: &types.OutputDataConfig{
			S3OutputPath: aws.String(outputURI),
		},
		ResourceConfig: &types.ResourceConfig{
			InstanceType:   trainingInstanceType,
			InstanceCount:  aws.Int32(1),
			VolumeSizeInGB: aws.Int32(trainingVolumeGB),
		},
		StoppingCondition: &types.StoppingCondition{
			MaxRuntimeInSeconds: aws.Int32(trainingMaxRuntimeSec),
		},
	})
	if err != nil {
		return "", fmt.Errorf("create training job: %w", err)
	}
	return jobName, nil
}

// RetrainingJobStatus reports the current status of a training job.
func RetrainingJobStatus(ctx context.Context, jobName string) (string, error) {
	cfg := getAWSConfig()
	client := sagemaker.NewFromConfig(cfg)
	out, err := client.DescribeTrainingJob(ctx, &sagemaker.DescribeTrainingJobInput{
		TrainingJobName: aws.String(jobName),
	})
	if err != nil {
		return "", fmt.Errorf("describe training job: %w", err)
	}
	return string(out.TrainingJobStatus), nil
}
