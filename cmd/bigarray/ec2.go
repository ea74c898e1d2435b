// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigarray/arrayconfig"

	// Registers the AWS instances so that the written profile shows
	// their defaults.
	_ "github.com/grailbio/base/config/aws"
)

// setupEC2Cmd provisions a security group in which bigarray ranks
// can reach each other, and points the bigarray profile at the EC2
// bigmachine system.
func setupEC2Cmd(args []string) error {
	var (
		flags         = flag.NewFlagSet("setup-ec2", flag.ExitOnError)
		securityGroup = flags.String("securitygroup", "bigarray", "name of the security group to set up")
		instance      = flags.String("instance", "m5.2xlarge", "EC2 instance type of rank machines")
	)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: bigarray setup-ec2 [-securitygroup name] [-instance type]

Command setup-ec2 finds or creates a security group that allows
traffic within the default VPC, inbound SSH and inbound HTTPS, and
writes a profile to %s that runs cluster exchanges on EC2. An
existing profile is modified in place.
`, arrayconfig.Path)
		flags.PrintDefaults()
		os.Exit(2)
	}
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 0 {
		flags.Usage()
	}

	profile := config.New()
	if f, err := os.Open(arrayconfig.Path); err == nil {
		err = profile.Parse(f)
		f.Close()
		if err != nil {
			return errors.E("parse "+arrayconfig.Path, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	if region, ok := profile.Get("aws/env.region"); ok && len(region) > 0 {
		if err := profile.Set("bigmachine/ec2system.default-region", strings.Trim(region, `"`)); err != nil {
			return err
		}
	}
	if v, ok := profile.Get("bigmachine/ec2system.security-group"); ok && v != `""` {
		log.Printf("ec2 security group %s already configured", v)
	} else {
		sess, err := session.NewSession()
		if err != nil {
			return errors.E("setting up AWS session", err)
		}
		id, err := findOrCreateSecurityGroup(ec2.New(sess), *securityGroup)
		if err != nil {
			return err
		}
		if err := profile.Set("bigmachine/ec2system.security-group", id); err != nil {
			return err
		}
	}
	for _, kv := range [][2]string{
		{"bigarray.system", "bigmachine/ec2system"},
		{"bigmachine/ec2system.instance", *instance},
	} {
		if err := profile.Set(kv[0], kv[1]); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	if err := profile.PrintTo(&buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(arrayconfig.Path), 0777); err != nil {
		return err
	}
	tmp := arrayconfig.Path + ".setup-ec2"
	if err := ioutil.WriteFile(tmp, buf.Bytes(), 0666); err != nil {
		return err
	}
	if err := os.Rename(tmp, arrayconfig.Path); err != nil {
		return err
	}
	log.Printf("wrote configuration to %s", arrayconfig.Path)
	return nil
}

func findOrCreateSecurityGroup(svc *ec2.EC2, name string) (string, error) {
	groups, err := svc.DescribeSecurityGroups(&ec2.DescribeSecurityGroupsInput{
		Filters: []*ec2.Filter{{
			Name:   aws.String("group-name"),
			Values: []*string{aws.String(name)},
		}},
	})
	if err != nil {
		return "", errors.E(fmt.Sprintf("querying security group %s", name), err)
	}
	if len(groups.SecurityGroups) > 0 {
		id := aws.StringValue(groups.SecurityGroups[0].GroupId)
		log.Printf("using existing security group %s", id)
		return id, nil
	}
	vpcs, err := svc.DescribeVpcs(&ec2.DescribeVpcsInput{
		Filters: []*ec2.Filter{{
			Name:   aws.String("isDefault"),
			Values: []*string{aws.String("true")},
		}},
	})
	if err != nil {
		return "", errors.E("retrieving default VPC", err)
	}
	if len(vpcs.Vpcs) != 1 {
		return "", errors.E(errors.Precondition,
			fmt.Sprintf("found %d default VPCs; the security group must be set up manually", len(vpcs.Vpcs)))
	}
	vpc := vpcs.Vpcs[0]
	created, err := svc.CreateSecurityGroup(&ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String("security group created by bigarray setup-ec2"),
		VpcId:       vpc.VpcId,
	})
	if err != nil {
		return "", errors.E(fmt.Sprintf("creating security group %s", name), err)
	}
	id := aws.StringValue(created.GroupId)
	anywhere := []*ec2.IpRange{{CidrIp: aws.String("0.0.0.0/0")}}
	_, err = svc.AuthorizeSecurityGroupIngress(&ec2.AuthorizeSecurityGroupIngressInput{
		GroupName: aws.String(name),
		IpPermissions: []*ec2.IpPermission{
			// Rank to rank traffic.
			{
				IpProtocol: aws.String("-1"),
				IpRanges:   []*ec2.IpRange{{CidrIp: vpc.CidrBlock}},
				FromPort:   aws.Int64(0),
				ToPort:     aws.Int64(0),
			},
			{IpProtocol: aws.String("tcp"), IpRanges: anywhere, FromPort: aws.Int64(22), ToPort: aws.Int64(22)},
			// Bigmachine RPC.
			{IpProtocol: aws.String("tcp"), IpRanges: anywhere, FromPort: aws.Int64(443), ToPort: aws.Int64(443)},
		},
	})
	if err != nil {
		return "", errors.E(fmt.Sprintf("authorizing ingress for security group %s", id), err)
	}
	_, err = svc.CreateTags(&ec2.CreateTagsInput{
		Resources: []*string{aws.String(id)},
		Tags:      []*ec2.Tag{{Key: aws.String("Name"), Value: aws.String("bigarray")}},
	})
	if err != nil {
		log.Error.Printf("tagging security group %s: %v", id, err)
	}
	log.Printf("created security group %s", id)
	return id, nil
}
