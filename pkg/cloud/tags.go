package cloud

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"
)

// Filter builds an EC2 describe filter
func Filter(name string, values ...string) ec2types.Filter {
	return ec2types.Filter{Name: aws.String(name), Values: values}
}

// TagFilter matches resources tagged key=value
func TagFilter(key, value string) ec2types.Filter {
	return Filter("tag:"+key, value)
}

// VPCFilter matches resources inside vpcID
func VPCFilter(vpcID string) ec2types.Filter {
	return Filter("vpc-id", vpcID)
}

// TagValue returns the value of key, or "" when the tag is absent
func TagValue(tags []ec2types.Tag, key string) string {
	tag, ok := lo.Find(tags, func(t ec2types.Tag) bool { return aws.ToString(t.Key) == key })
	if !ok {
		return ""
	}
	return aws.ToString(tag.Value)
}
