package utils

import (
	"fmt"
	"io/ioutil"
	"runtime"
	"time"
)

const crashFilePrefix = "dealer_crash"

// MyRecover logs a recovered panic with its stack and leaves a crash report
// in the working directory.
func MyRecover() {
	cause := recover()
	if cause == nil {
		return
	}
	var buf [8192]byte
	n := runtime.Stack(buf[:], false)
	log.Criticalf("Recovered from panic: %v\n%s", cause, buf[:n])
	writeCrashReport(fmt.Sprintf("%v\n%s", cause, buf[:n]))
}

func writeCrashReport(info string) {
	name := fmt.Sprintf("%s_%s_%d", crashFilePrefix,
		time.Now().Format("20060102150405"), time.Now().Unix())
	if err := ioutil.WriteFile(name, []byte(info), 0644); err != nil {
		log.Errorf("Unable to write crash report %v: %v", name, err)
		return
	}
	log.Infof("Crash report written to %v", name)
}
