package utils

import (
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
)

func GoWithRecover(handler func(), recoverHandler func(r any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logrus.Errorf("%s goroutine panic: %v\n%s\n", time.Now().Format(time.DateTime), r, string(debug.Stack()))
				if recoverHandler != nil {
					go func() {
						defer func() {
							if p := recover(); p != nil {
								logrus.Errorf("recover goroutine panic:%v\n%s\n", p, string(debug.Stack()))
							}
						}()
						recoverHandler(r)
					}()
				}
			}
		}()
		handler()
	}()
}
