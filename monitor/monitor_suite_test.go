// Scenario tests for the monitor loop, grounded on the teacher's hk/mirror
// suite-runner pattern (TestXxx entrypoint wrapping ginkgo's RunSpecs).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package monitor_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/xu354cjo1008/ctdb/hk"
)

func TestMonitor(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.WaitStarted()
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
