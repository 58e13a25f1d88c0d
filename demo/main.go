// Command demo runs two cooperative tasks — a low-priority producer and a
// high-priority consumer rendezvousing over a semaphore — driven by a
// host loop that plays the role of the firmware's main loop plus its
// system tick ISR.
package main

import (
	"context"
	"fmt"
	"time"

	nonos "github.com/betterRunner/NonPreemptive-OS"
)

func main() {
	mgr, err := nonos.NewManager(16*1024, 8)
	if err != nil {
		panic(err)
	}
	defer mgr.Close()

	mgr.OnWake(func(_ context.Context, ev nonos.WakeEvent) error {
		fmt.Printf("[wake] priority=%d reason=%s\n", ev.Priority, ev.Reason)
		return nil
	})

	ready, code := mgr.CreateEvent(nonos.EventSemaphore, 0)
	if code != nonos.ErrNone {
		panic(code)
	}

	mgr.CreateTask(func(ctx *nonos.TaskCtx, _ any) nonos.ErrorCode {
		for i := 0; i < 3; i++ {
			fmt.Printf("producer: working tick %d\n", i)
			ctx.WaitTick(2)
			mgr.SendSemaphore(ready)
		}
		return nonos.ErrNone
	}, nil, 5)

	mgr.CreateTask(func(ctx *nonos.TaskCtx, _ any) nonos.ErrorCode {
		for i := 0; i < 3; i++ {
			code := ctx.WaitSemaphore(ready, -1)
			if code != nonos.ErrNone {
				return code
			}
			fmt.Printf("consumer: got delivery %d\n", i)
		}
		return nonos.ErrNone
	}, nil, 0)

	for {
		producerDone, _, _ := mgr.TaskStatus(5)
		consumerDone, _, _ := mgr.TaskStatus(0)
		if producerDone && consumerDone {
			break
		}
		if _, ran := mgr.RunReadyTask(); !ran {
			mgr.OnIdle(func() { time.Sleep(time.Millisecond) })
			mgr.OnSysTick()
		}
	}
}
