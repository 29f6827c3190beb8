package checks

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/chalkan3/consul-mesh-verify/pkg/kube"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

const (
	MonitoringNamespace = "monitoring"
	PrometheusSelector  = "app=prometheus"
	prometheusConfigMap = "prometheus-config"
	prometheusConfigKey = "prometheus.yml"
)

func monitoringSuite(d Deps) verify.Suite {
	return verify.Suite{
		Name:      SuiteMonitoring,
		DependsOn: []string{SuiteEKS},
		Checks: []verify.Check{
			{Name: "namespace", Run: func(ctx context.Context) error {
				return d.ensureNamespace(ctx, MonitoringNamespace)
			}},
			{Name: "prometheus ready", Run: d.checkPrometheusReady, Remediation: "Inspect the prometheus deployment in the monitoring namespace"},
			{Name: "prometheus scrapes consul", Run: d.checkPrometheusConfig, Remediation: "Add a consul scrape job to prometheus.yml"},
			{Name: "health alarm", Run: d.checkHealthAlarm, Remediation: "Apply the monitoring terraform module and enable the alarm actions"},
		},
	}
}

func (d Deps) checkPrometheusReady(ctx context.Context) error {
	_, err := kube.WaitForPods(ctx, d.Kube, MonitoringNamespace, PrometheusSelector, 1, d.pollOptions())
	return err
}

func (d Deps) checkPrometheusConfig(ctx context.Context) error {
	cfg, err := kube.ConfigMapValue(ctx, d.Kube, MonitoringNamespace, prometheusConfigMap, prometheusConfigKey)
	if err != nil {
		return err
	}
	if !strings.Contains(cfg, "consul") {
		return verify.Violationf("configmap "+MonitoringNamespace+"/"+prometheusConfigMap, "%s has no consul scrape target", prometheusConfigKey)
	}
	return nil
}

func (d Deps) checkHealthAlarm(ctx context.Context) error {
	name := d.Config.AlarmName()
	out, err := d.Cloud.CloudWatch.DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{AlarmNames: []string{name}})
	if err != nil {
		return verify.Access("describe alarms", err)
	}
	if len(out.MetricAlarms) == 0 {
		return verify.NotFound("cloudwatch alarm", name)
	}

	alarm := out.MetricAlarms[0]
	healthy := alarm.StateValue == cwtypes.StateValueOk || alarm.StateValue == cwtypes.StateValueInsufficientData
	return verify.Expect("cloudwatch alarm "+name).
		That(aws.ToBool(alarm.ActionsEnabled), "alarm actions are disabled").
		That(healthy, "alarm is in state %s", alarm.StateValue).
		Err()
}
